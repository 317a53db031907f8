package ingest

import "fmt"

type IngestState int

const (
	RECEIVED IngestState = iota
	STAGED
	COMMITTING
	DONE
	FAILED
)

func (state IngestState) String() string {
	switch state {
	case RECEIVED:
		return fmt.Sprintf("RECEIVED[%d]", state)
	case STAGED:
		return fmt.Sprintf("STAGED[%d]", state)
	case COMMITTING:
		return fmt.Sprintf("COMMITTING[%d]", state)
	case DONE:
		return fmt.Sprintf("DONE[%d]", state)
	case FAILED:
		return fmt.Sprintf("FAILED[%d]", state)
	}

	return fmt.Sprintf("UNKNOWN[%d]", state)
}

// Describe returns a human description of the work performed while in
// this state, suitable for inclusion in error messages.
func (state IngestState) Describe() string {
	switch state {
	case RECEIVED:
		return "receiving upload"
	case STAGED:
		return "staging files"
	case COMMITTING:
		return "committing to catalog"
	default:
		return "ingesting"
	}
}

// canTransition reports whether moving from the current state to the
// next is legal.
func (state IngestState) canTransition(next IngestState) bool {
	switch state {
	case RECEIVED:
		return next == STAGED || next == FAILED
	case STAGED:
		return next == COMMITTING || next == FAILED
	case COMMITTING:
		return next == DONE || next == FAILED
	default:
		return false
	}
}
