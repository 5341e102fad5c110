package agent

import "fmt"

// LoopLimitError reports that a user turn exhausted the iteration
// ceiling without the model producing a final answer.
type LoopLimitError struct {
	Limit int
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("model did not produce a final answer within %d iterations", e.Limit)
}
