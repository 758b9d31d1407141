package models

type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanInactive  PlanStatus = "inactive"
	PlanCancelled PlanStatus = "cancelled"
)

func (s PlanStatus) Valid() bool {
	switch s {
	case PlanActive, PlanInactive, PlanCancelled:
		return true
	}
	return false
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type DemandStatus string

const (
	DemandPending    DemandStatus = "pending"
	DemandInProgress DemandStatus = "in_progress"
	DemandInApproval DemandStatus = "in_approval"
	DemandCompleted  DemandStatus = "completed"
	DemandCancelled  DemandStatus = "cancelled"
)

func (s DemandStatus) Valid() bool {
	switch s {
	case DemandPending, DemandInProgress, DemandInApproval, DemandCompleted, DemandCancelled:
		return true
	}
	return false
}

func (s DemandStatus) Terminal() bool {
	return s == DemandCompleted || s == DemandCancelled
}

// OpenDemandStatuses are the non-terminal demand states.
var OpenDemandStatuses = []DemandStatus{DemandPending, DemandInProgress, DemandInApproval}

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketCompleted  TicketStatus = "completed"
	TicketCancelled  TicketStatus = "cancelled"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketCompleted, TicketCancelled:
		return true
	}
	return false
}

func (s TicketStatus) Terminal() bool {
	return s == TicketCompleted || s == TicketCancelled
}

type InvoiceStatus string

const (
	InvoiceOpen                 InvoiceStatus = "open"
	InvoiceAwaitingConfirmation InvoiceStatus = "awaiting_confirmation"
	InvoicePaid                 InvoiceStatus = "paid"
	InvoiceCancelled            InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceOpen, InvoiceAwaitingConfirmation, InvoicePaid, InvoiceCancelled:
		return true
	}
	return false
}
