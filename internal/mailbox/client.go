package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-davison/agent-quest/internal/objectstore"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
	"github.com/matt-davison/agent-quest/internal/platform/timeouts"
)

const instrumentationName = "github.com/matt-davison/agent-quest/internal/mailbox"

// ConflictPolicy decides what happens when a conditional write loses a race.
type ConflictPolicy string

const (
	// PolicyDrop logs the conflict and gives up.
	PolicyDrop ConflictPolicy = "drop"
	// PolicyRetry re-reads, re-applies and retries with exponential backoff.
	PolicyRetry ConflictPolicy = "retry"
)

// ParseConflictPolicy accepts "drop", "retry" or blank (drop).
func ParseConflictPolicy(value string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyRetry:
		return PolicyRetry, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", value)
	}
}

// Outcome reports what a write did.
type Outcome int

const (
	// OutcomeWritten means the store accepted the write.
	OutcomeWritten Outcome = iota
	// OutcomeUnchanged means the mutation asked to skip the write.
	OutcomeUnchanged
	// OutcomeConflict means another writer won and the write was dropped.
	OutcomeConflict
	// OutcomeUnavailable means the store could not be reached.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeConflict:
		return "conflict"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ErrSkipWrite may be returned by a Mutator to leave the file as it is.
var ErrSkipWrite = errors.New("skip write")

// Mutator turns the current file content into the content to write. exists
// is false when the file or its ref is absent.
type Mutator func(current []byte, exists bool) ([]byte, error)

// Options configure a Client. Zero values pick defaults.
type Options struct {
	BaseRef        string
	Timeout        time.Duration
	Policy         ConflictPolicy
	MaxRetries     uint
	Logger         *log.Logger
	TracerProvider trace.TracerProvider
	// NewBackOff builds the retry schedule for one Update under PolicyRetry.
	NewBackOff func() backoff.BackOff
}

// Client is the remote mailbox used by the session, relay and notification
// packages.
type Client struct {
	store      objectstore.Store
	baseRef    string
	timeout    time.Duration
	policy     ConflictPolicy
	maxRetries uint
	logger     *log.Logger
	tracer     trace.Tracer
	newBackOff func() backoff.BackOff

	mu    sync.Mutex
	known map[string]struct{}
}

// New builds a Client over store.
func New(store objectstore.Store, opts Options) *Client {
	if opts.BaseRef == "" {
		opts.BaseRef = objectstore.DefaultBaseRef
	}
	if opts.Timeout <= 0 {
		opts.Timeout = timeouts.RemoteCall
	}
	if opts.Policy == "" {
		opts.Policy = PolicyDrop
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	return &Client{
		store:      store,
		baseRef:    opts.BaseRef,
		timeout:    opts.Timeout,
		policy:     opts.Policy,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		tracer:     opts.TracerProvider.Tracer(instrumentationName),
		newBackOff: opts.NewBackOff,
		known:      make(map[string]struct{}),
	}
}

// Policy returns the conflict policy in effect.
func (c *Client) Policy() ConflictPolicy { return c.policy }

func (c *Client) call(ctx context.Context, op, ref, filePath string) (context.Context, trace.Span, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	attrs := []attribute.KeyValue{attribute.String("mailbox.ref", ref)}
	if filePath != "" {
		attrs = append(attrs, attribute.String("mailbox.path", filePath))
	}
	ctx, span := c.tracer.Start(ctx, "mailbox."+op, trace.WithAttributes(attrs...))
	return ctx, span, cancel
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// EnsureRef creates ref from baseRef (the configured base when blank) if it
// does not exist. Failures are returned as REMOTE_UNAVAILABLE.
func (c *Client) EnsureRef(ctx context.Context, ref, baseRef string) error {
	if baseRef == "" {
		baseRef = c.baseRef
	}
	callCtx, span, cancel := c.call(ctx, "EnsureRef", ref, "")
	defer cancel()
	created, err := c.store.EnsureRef(callCtx, ref, baseRef)
	span.SetAttributes(attribute.Bool("mailbox.created", created))
	endSpan(span, err)
	if err != nil {
		c.logger.Printf("mailbox: ensure ref %s: %v", ref, err)
		return apperrors.Wrap(apperrors.CodeRemoteUnavailable, fmt.Sprintf("create ref %s", ref), err)
	}
	c.remember(ref)
	return nil
}

// ReadFile returns the file content. Absence and unavailability both report
// false; unavailability is logged.
func (c *Client) ReadFile(ctx context.Context, ref, filePath string) ([]byte, bool) {
	obj, ok := c.read(ctx, ref, filePath)
	return obj.Content, ok
}

func (c *Client) read(ctx context.Context, ref, filePath string) (objectstore.Object, bool) {
	obj, err := c.get(ctx, ref, filePath)
	if err != nil {
		if !objectstore.IsAbsent(err) {
			c.logger.Printf("mailbox: read %s@%s: %v", filePath, ref, err)
		}
		return objectstore.Object{}, false
	}
	return obj, true
}

func (c *Client) get(ctx context.Context, ref, filePath string) (objectstore.Object, error) {
	callCtx, span, cancel := c.call(ctx, "ReadFile", ref, filePath)
	defer cancel()
	obj, err := c.store.Get(callCtx, ref, filePath)
	if objectstore.IsAbsent(err) {
		span.SetAttributes(attribute.Bool("mailbox.found", false))
		span.End()
		return objectstore.Object{}, err
	}
	endSpan(span, err)
	return obj, err
}

func (c *Client) put(ctx context.Context, ref, filePath string, content []byte, version, message string) error {
	callCtx, span, cancel := c.call(ctx, "WriteFile", ref, filePath)
	defer cancel()
	_, err := c.store.Put(callCtx, ref, filePath, content, version, message)
	if errors.Is(err, objectstore.ErrVersionMismatch) {
		span.SetAttributes(attribute.Bool("mailbox.conflict", true))
	}
	endSpan(span, err)
	return err
}

// WriteFile replaces the file, conditional on the version it reads first.
func (c *Client) WriteFile(ctx context.Context, ref, filePath string, content []byte, message string) Outcome {
	outcome, _ := c.Update(ctx, ref, filePath, func([]byte, bool) ([]byte, error) {
		return content, nil
	}, message)
	return outcome
}

// Update applies mutate to the current content and writes the result.
// Errors from mutate other than ErrSkipWrite are returned; remote failures
// are reported only through the Outcome.
func (c *Client) Update(ctx context.Context, ref, filePath string, mutate Mutator, message string) (Outcome, error) {
	attempt := func() (Outcome, []byte, error) {
		obj, err := c.get(ctx, ref, filePath)
		exists := err == nil
		if err != nil && !objectstore.IsAbsent(err) {
			c.logger.Printf("mailbox: read %s@%s before write: %v", filePath, ref, err)
			return OutcomeUnavailable, nil, nil
		}
		next, err := mutate(obj.Content, exists)
		if errors.Is(err, ErrSkipWrite) {
			return OutcomeUnchanged, nil, nil
		}
		if err != nil {
			return OutcomeUnchanged, nil, err
		}
		version := obj.Version
		if !exists {
			version = ""
		}
		err = c.put(ctx, ref, filePath, next, version, message)
		switch {
		case err == nil:
			return OutcomeWritten, next, nil
		case errors.Is(err, objectstore.ErrVersionMismatch):
			return OutcomeConflict, nil, nil
		default:
			c.logger.Printf("mailbox: write %s@%s: %v", filePath, ref, err)
			return OutcomeUnavailable, nil, nil
		}
	}

	if c.policy != PolicyRetry {
		outcome, _, err := attempt()
		if outcome == OutcomeConflict {
			c.logger.Printf("mailbox: write %s@%s lost a race; dropped", filePath, ref)
		}
		return outcome, err
	}

	errConflict := errors.New("write conflict")
	var (
		mutateErr error
		written   []byte
	)
	outcome, err := backoff.Retry(ctx, func() (Outcome, error) {
		outcome, content, err := attempt()
		if err != nil {
			mutateErr = err
			return outcome, backoff.Permanent(err)
		}
		if outcome == OutcomeConflict {
			return outcome, errConflict
		}
		written = content
		return outcome, nil
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxRetries),
	)
	if mutateErr != nil {
		return OutcomeUnchanged, mutateErr
	}
	if err != nil {
		c.logger.Printf("mailbox: write %s@%s still conflicting after %d attempts; dropped", filePath, ref, c.maxRetries)
		return OutcomeConflict, nil
	}
	if outcome == OutcomeWritten {
		c.verify(ctx, ref, filePath, written)
	}
	return outcome, nil
}

// verify re-reads a write made under the retry policy.
func (c *Client) verify(ctx context.Context, ref, filePath string, written []byte) {
	obj, ok := c.read(ctx, ref, filePath)
	switch {
	case !ok:
		c.logger.Printf("mailbox: verify %s@%s: file not readable after write", filePath, ref)
	case !bytes.Equal(obj.Content, written):
		c.logger.Printf("mailbox: verify %s@%s: overwritten by another writer", filePath, ref)
	}
}

// FetchRefs lists the refs matching a glob pattern such as
// "session/S/outbox/*" and remembers them. When the store is unreachable it
// returns the matching refs seen earlier.
func (c *Client) FetchRefs(ctx context.Context, pattern string) []string {
	prefix := pattern
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		prefix = pattern[:i]
	}
	callCtx, span, cancel := c.call(ctx, "FetchRefs", pattern, "")
	defer cancel()
	refs, err := c.store.ListRefs(callCtx, prefix)
	endSpan(span, err)
	if err != nil {
		c.logger.Printf("mailbox: fetch refs %s: %v", pattern, err)
		return c.knownMatching(pattern)
	}

	var out []string
	c.mu.Lock()
	for name := range c.known {
		if matches(pattern, name) {
			delete(c.known, name)
		}
	}
	for _, ref := range refs {
		if matches(pattern, ref.Name) {
			c.known[ref.Name] = struct{}{}
			out = append(out, ref.Name)
		}
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}

// DeleteRefs deletes every ref under prefix and returns the names removed.
func (c *Client) DeleteRefs(ctx context.Context, prefix string) ([]string, error) {
	callCtx, span, cancel := c.call(ctx, "DeleteRefs", prefix, "")
	defer cancel()
	refs, err := c.store.ListRefs(callCtx, prefix)
	if err != nil {
		endSpan(span, err)
		return nil, apperrors.Wrap(apperrors.CodeRemoteUnavailable, fmt.Sprintf("list refs %s", prefix), err)
	}
	var deleted []string
	for _, ref := range refs {
		if err := c.store.DeleteRef(callCtx, ref.Name); err != nil {
			endSpan(span, err)
			return deleted, apperrors.Wrap(apperrors.CodeRemoteUnavailable, fmt.Sprintf("delete ref %s", ref.Name), err)
		}
		deleted = append(deleted, ref.Name)
		c.forget(ref.Name)
	}
	span.SetAttributes(attribute.Int("mailbox.deleted", len(deleted)))
	endSpan(span, nil)
	return deleted, nil
}

func (c *Client) remember(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[objectstore.NormalizeRef(ref)] = struct{}{}
}

func (c *Client) forget(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.known, ref)
}

func (c *Client) knownMatching(pattern string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name := range c.known {
		if matches(pattern, name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func matches(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
