package adapter

import (
	"errors"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"
)

// floodError carries Telegram's retry_after so the task engine waits as long
// as Telegram asked.
type floodError struct {
	op    string
	after time.Duration
	err   error
}

func (e *floodError) Error() string {
	return fmt.Sprintf("telegram %s: flood wait %s: %v", e.op, e.after, e.err)
}
func (e *floodError) Unwrap() error             { return e.err }
func (e *floodError) RetryAfter() time.Duration { return e.after }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &floodError{op: op, after: time.Duration(fe.RetryAfter) * time.Second, err: err}
	}
	var fep *tele.FloodError
	if errors.As(err, &fep) && fep != nil {
		return &floodError{op: op, after: time.Duration(fep.RetryAfter) * time.Second, err: err}
	}
	return fmt.Errorf("telegram %s: %w", op, err)
}
