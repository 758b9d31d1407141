package billing

import (
	"deskledger/models"
)

type Event string

const (
	EventApprove  Event = "approve"
	EventSubmit   Event = "submit for approval"
	EventRework   Event = "return for rework"
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
	EventReport   Event = "report payment for"
	EventConfirm  Event = "confirm payment for"
	EventReject   Event = "reject payment for"
	EventEdit     Event = "edit"
	EventDelete   Event = "delete"
)

// transitions maps a status and an event to the resulting status.
// Anything absent from the table is rejected.
type transitions[S ~string] map[S]map[Event]S

func (t transitions[S]) next(entity string, from S, event Event) (S, error) {
	if to, ok := t[from][event]; ok {
		return to, nil
	}
	return from, &TransitionError{Entity: entity, From: string(from), Event: string(event)}
}

// eventTo finds the event that moves from into to, for direct status updates.
func (t transitions[S]) eventTo(from, to S) (Event, bool) {
	for event, target := range t[from] {
		if target == to {
			return event, true
		}
	}
	return "", false
}

var demandTransitions = transitions[models.DemandStatus]{
	models.DemandPending: {
		EventApprove:  models.DemandInProgress,
		EventComplete: models.DemandCompleted,
		EventCancel:   models.DemandCancelled,
	},
	models.DemandInProgress: {
		EventSubmit:   models.DemandInApproval,
		EventComplete: models.DemandCompleted,
		EventCancel:   models.DemandCancelled,
	},
	models.DemandInApproval: {
		EventRework:   models.DemandInProgress,
		EventComplete: models.DemandCompleted,
		EventCancel:   models.DemandCancelled,
	},
}

var ticketTransitions = transitions[models.TicketStatus]{
	models.TicketOpen: {
		EventStart:    models.TicketInProgress,
		EventComplete: models.TicketCompleted,
		EventCancel:   models.TicketCancelled,
	},
	models.TicketInProgress: {
		EventComplete: models.TicketCompleted,
		EventCancel:   models.TicketCancelled,
	},
}

var invoiceTransitions = transitions[models.InvoiceStatus]{
	models.InvoiceOpen: {
		EventReport:  models.InvoiceAwaitingConfirmation,
		EventConfirm: models.InvoicePaid,
		EventCancel:  models.InvoiceCancelled,
	},
	models.InvoiceAwaitingConfirmation: {
		EventConfirm: models.InvoicePaid,
		EventReject:  models.InvoiceOpen,
		EventCancel:  models.InvoiceCancelled,
	},
}
