package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/natserract/sfclean/pkg/audit"
	"github.com/natserract/sfclean/pkg/config"
	"github.com/natserract/sfclean/pkg/folders"
	"github.com/natserract/sfclean/pkg/patterns"
	"github.com/natserract/sfclean/pkg/resource"
)

// Exit codes of a run.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitAborted = 2
)

// ErrCancelled is returned when the operator declines or interrupts a run.
var ErrCancelled = errors.New("operation cancelled")

// SafetyViolation blocks a run because protected or depended-upon items are
// among the candidates. It is cleared only by an explicit operator flag.
type SafetyViolation struct {
	Reason string
	Flag   string
	Items  []resource.Item
}

func (e *SafetyViolation) Error() string {
	names := make([]string, 0, len(e.Items))
	for i, it := range e.Items {
		if i == 5 {
			names = append(names, fmt.Sprintf("and %d more", len(e.Items)-i))
			break
		}
		names = append(names, it.Name)
	}
	return fmt.Sprintf("%s (%s); rerun with %s to override", e.Reason, strings.Join(names, ", "), e.Flag)
}

// ExitCodeFor maps an error returned by Run to a process exit code. Aborts
// before anything was deleted get ExitAborted; anything unexpected gets
// ExitFailure.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var (
		resErr    *folders.ResolutionError
		safety    *SafetyViolation
		patErr    *patterns.ValidationError
		configErr *config.FatalConfigError
	)
	switch {
	case errors.As(err, &resErr),
		errors.As(err, &safety),
		errors.As(err, &patErr),
		errors.As(err, &configErr),
		errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, audit.ErrStateNotFound):
		return ExitAborted
	}
	return ExitFailure
}
