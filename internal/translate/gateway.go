// Package translate wraps the external machine-translation capability.
// The Gateway never fails: translation errors are logged and the original
// text is returned unchanged.
package translate

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/user/switchboard/internal/types"
)

// Gateway applies the log-and-degrade policy over a Client.
type Gateway struct {
	client  Client
	timeout time.Duration
}

var _ types.Translator = (*Gateway)(nil)

func New(client Client, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{client: client, timeout: timeout}
}

// Translate returns text rendered in target, or text itself when the target
// is empty, invalid, or the backing client fails.
func (g *Gateway) Translate(ctx context.Context, text, target string) string {
	if text == "" {
		return text
	}
	tag, ok := Normalize(target)
	if !ok {
		slog.Warn("translation skipped, bad language tag", "target", target)
		return text
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.client.Translate(ctx, text, tag)
	if err != nil {
		slog.Warn("translation degraded", "target", tag, "error", err)
		return text
	}
	return out
}

// Normalize reduces a language code to its base form ("pt-BR" -> "pt").
// Profile languages and the operator language pass through here so that
// comparisons between the two are exact.
func Normalize(code string) (string, bool) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	return base.String(), true
}
