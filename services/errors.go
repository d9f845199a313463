package services

import "github.com/pkg/errors"

var (
	// ErrConfig is a configuration that cannot be served, e.g. a start block ahead of recorded data.
	ErrConfig = errors.New("configuration error")

	// ErrConsistency means the store disagrees with the event stream.
	ErrConsistency = errors.New("consistency violation")

	// ErrProtocol means the chain produced data the indexer does not understand.
	ErrProtocol = errors.New("protocol violation")
)

// IsFatal reports whether err must stop the pipeline of its chain.
// Everything else is treated as transient and retried at the next trigger.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrConsistency) || errors.Is(err, ErrProtocol)
}
