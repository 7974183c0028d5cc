package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrSink fans an alert message out to any shoutrrr service URL.
// Images are not supported and are skipped.
type ShoutrrrSink struct {
	sender *router.ServiceRouter
	logger *slog.Logger
}

// NewShoutrrrSink validates the URLs and builds a single sender for
// all of them
func NewShoutrrrSink(urls []string) (*ShoutrrrSink, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("failed to create shoutrrr sender: %w", err)
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrSink{
		sender: sender,
		logger: slog.Default().With("component", "shoutrrr"),
	}, nil
}

// Send delivers the message to every configured service
func (s *ShoutrrrSink) Send(ctx context.Context, message string, jpeg []byte) error {
	params := stypes.Params{}
	params.SetTitle("Security Alert")

	for _, err := range s.sender.Send(message, &params) {
		if err != nil {
			return fmt.Errorf("shoutrrr delivery failed: %w", err)
		}
	}
	return nil
}
