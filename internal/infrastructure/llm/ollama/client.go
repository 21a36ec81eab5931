package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/infrastructure/resilience"
)

type Options struct {
	// RequestsPerSecond throttles calls to the server; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	HTTPTimeout       time.Duration
	Resilience        resilience.Config
}

// Client is the vision-model oracle backed by an Ollama server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		executor:   resilience.NewExecutor(opts.Resilience),
	}
}

// Infer sends one page image with the extraction prompt to modelRef and
// returns the model's text.
func (c *Client) Infer(ctx context.Context, image []byte, prompt, modelRef string, timeout time.Duration) (string, error) {
	if len(image) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "ollama infer", errors.New("empty image"))
	}
	if strings.TrimSpace(modelRef) == "" {
		return "", domain.WrapError(domain.ErrModelUnavailable, "ollama infer", errors.New("model reference is empty"))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	request := buildChatRequest(modelRef, prompt, image)
	var text string
	err := c.executor.Execute(ctx, "infer:"+modelRef, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.WrapError(domain.ErrTimeout, "ollama rate limit", err)
		}
		var response chatResponse
		if err := c.call(ctx, http.MethodPost, "/api/chat", request, &response, "chat"); err != nil {
			return classifyToDomain("ollama chat", err)
		}
		text = strings.TrimSpace(response.Message.Content)
		return nil
	}, resilience.ClassifyDomainError)
	if err != nil {
		return "", finalError(ctx, modelRef, err)
	}
	return text, nil
}

// Models lists the model names installed on the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var response struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/tags", nil, &response, "tags"); err != nil {
		return nil, classifyToDomain("ollama tags", err)
	}
	names := make([]string, 0, len(response.Models))
	for _, m := range response.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// MissingModels reports which of the wanted models the server does not have.
func (c *Client) MissingModels(ctx context.Context, wanted []string) ([]string, error) {
	installed, err := c.Models(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(installed))
	for _, name := range installed {
		have[name] = struct{}{}
	}
	var missing []string
	for _, name := range wanted {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func finalError(ctx context.Context, modelRef string, err error) error {
	switch {
	case domain.IsKind(err, domain.ErrTimeout):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTimeout, "ollama infer "+modelRef, err)
	case errors.Is(err, context.Canceled):
		return err
	case resilience.IsCircuitOpen(err):
		return domain.WrapError(domain.ErrModelUnavailable, "ollama infer "+modelRef, fmt.Errorf("circuit open: %w", err))
	default:
		return err
	}
}
