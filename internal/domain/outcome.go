package domain

// OutcomeKind tags a ReservationOutcome
type OutcomeKind string

const (
	OutcomeIssued   OutcomeKind = "issued"
	OutcomeOffered  OutcomeKind = "offered"
	OutcomeQueued   OutcomeKind = "queued"
	OutcomeRejected OutcomeKind = "rejected"
)

// ReservationOutcome is the result of RequestTicketOrOffer. Queued is a
// success: the caller gets a position, not an error.
type ReservationOutcome struct {
	Kind     OutcomeKind       `json:"outcome"`
	Ticket   *Ticket           `json:"ticket,omitempty"`
	Entry    *WaitingListEntry `json:"entry,omitempty"`
	Position int               `json:"position,omitempty"`
	Reason   Kind              `json:"reason,omitempty"`
	Detail   string            `json:"detail,omitempty"`
}

func Issued(t *Ticket) *ReservationOutcome {
	return &ReservationOutcome{Kind: OutcomeIssued, Ticket: t}
}

func Offered(e *WaitingListEntry) *ReservationOutcome {
	return &ReservationOutcome{Kind: OutcomeOffered, Entry: e}
}

func Queued(e *WaitingListEntry, position int) *ReservationOutcome {
	return &ReservationOutcome{Kind: OutcomeQueued, Entry: e, Position: position}
}

// Rejected builds a rejection from a domain error
func Rejected(err error) *ReservationOutcome {
	return &ReservationOutcome{Kind: OutcomeRejected, Reason: KindOf(err), Detail: err.Error()}
}
