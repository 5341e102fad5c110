package registry

import "fmt"

// DuplicateToolError reports a registration rejected because another
// live session already owns the tool name.
type DuplicateToolError struct {
	Tool          string
	OwnerSession  string
	LosingSession string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered by session %s; registration from %s rejected",
		e.Tool, e.OwnerSession, e.LosingSession)
}

// UnknownToolError reports a resolve of a name no live session offers.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Tool)
}
