// Package merge concatenates DOCX documents into one.
//
// The body content of every input is deep-copied into a fresh output
// document in input order, section properties are dropped so the output has
// a single section, the images and external links the content references are
// re-registered in the output's Resource Table, and an explicit page break
// separates consecutive inputs.
//
// Every call to Merge builds its own output document, so a Merger may be
// shared by concurrent callers.
package merge

import (
	"context"
	"time"

	"github.com/antchfx/xmlquery"
	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/docmerge/core/docx"
	"github.com/FocuswithJustin/docmerge/core/errors"
	"github.com/FocuswithJustin/docmerge/internal/logging"
)

// Locator resolves caller-supplied locations to files.
type Locator interface {
	// Resolve maps a location to a file path, rejecting invalid locations.
	Resolve(location string) (string, error)
	// Exists reports whether path names an existing regular file.
	Exists(path string) bool
}

// Conflict records two inputs using one resource id for different resources.
type Conflict struct {
	Location   string `json:"location"`    // input that brought the second resource
	ID         string `json:"id"`          // the contested id
	Existing   string `json:"existing"`    // target already registered under ID
	Incoming   string `json:"incoming"`    // target of the later resource
	RemappedTo string `json:"remapped_to"` // new id under Remap, "" under FirstWins
}

// Input summarizes what one input contributed.
type Input struct {
	Location  string
	Path      string
	Nodes     int // top-level body nodes copied
	Resources int // resources newly registered in the output
	Unbound   int // references to relationships that are not carried over
}

// Result is the outcome of one merge. The caller owns Document.
type Result struct {
	Document  *docx.Document
	Policy    Policy
	Inputs    []Input
	Conflicts []Conflict
	Breaks    int
}

// Merger merges documents found through a Locator.
type Merger struct {
	locator  Locator
	policy   Policy
	preload  int
	observer Observer
}

// Option configures a Merger.
type Option func(*Merger)

// WithCollisionPolicy sets how resource id collisions are resolved.
func WithCollisionPolicy(p Policy) Option {
	return func(m *Merger) { m.policy = p }
}

// WithPreload loads up to n inputs concurrently before appending. n <= 1
// loads each input just before it is appended.
func WithPreload(n int) Option {
	return func(m *Merger) { m.preload = n }
}

// WithObserver registers a progress observer.
func WithObserver(fn Observer) Option {
	return func(m *Merger) { m.observer = fn }
}

// New returns a Merger resolving locations through locator.
func New(locator Locator, opts ...Option) *Merger {
	m := &Merger{locator: locator, policy: DefaultPolicy}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the configured collision policy.
func (m *Merger) Policy() Policy { return m.policy }

// Merge concatenates the documents at locations, in order.
//
// It fails with a *errors.NotFoundError naming the first location that does
// not exist, or a *errors.ParseError for an input that is not a readable
// DOCX package. No result is returned on failure.
func (m *Merger) Merge(ctx context.Context, locations []string, opts ...Option) (*Result, error) {
	mm := *m
	for _, opt := range opts {
		opt(&mm)
	}
	return mm.merge(ctx, locations)
}

func (m *Merger) merge(ctx context.Context, locations []string) (*Result, error) {
	start := time.Now()

	out, err := docx.New()
	if err != nil {
		return nil, errors.Wrap(err, "create output document")
	}
	out.RemovePlaceholder()

	res := &Result{Document: out, Policy: m.policy}
	m.emit(Event{Type: EventStarted, Index: -1, Total: len(locations)})

	var preloaded []*loaded
	if m.preload > 1 && len(locations) > 1 {
		if preloaded, err = m.loadAll(ctx, locations); err != nil {
			return nil, err
		}
	}

	for i, loc := range locations {
		var in *loaded
		if preloaded != nil {
			in = preloaded[i]
		} else {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if in, err = m.load(loc); err != nil {
				return nil, err
			}
		}

		stats := m.appendDocument(ctx, res, in)
		res.Inputs = append(res.Inputs, stats)

		if i < len(locations)-1 {
			appendPageBreak(out)
			res.Breaks++
		}
		m.emit(Event{Type: EventDocumentAppended, Index: i, Total: len(locations), Location: loc, Nodes: stats.Nodes})
	}

	logging.MergeCompleted(ctx, len(locations), len(res.Conflicts), string(m.policy), time.Since(start))
	m.emit(Event{Type: EventCompleted, Index: -1, Total: len(locations)})
	return res, nil
}

type loaded struct {
	location string
	path     string
	doc      *docx.Document
}

func (m *Merger) load(location string) (*loaded, error) {
	path, err := m.locator.Resolve(location)
	if err != nil {
		return nil, err
	}
	if !m.locator.Exists(path) {
		return nil, errors.NewDocumentNotFound(location)
	}
	doc, err := docx.Open(path)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// removed between the existence check and the read
			return nil, errors.NewDocumentNotFound(location)
		}
		return nil, errors.Relocate(err, location)
	}
	return &loaded{location: location, path: path, doc: doc}, nil
}

// loadAll loads every input concurrently. All loads run to completion so the
// reported error is always the one of the lowest failing index, as in a
// sequential merge.
func (m *Merger) loadAll(ctx context.Context, locations []string) ([]*loaded, error) {
	docs := make([]*loaded, len(locations))
	errs := make([]error, len(locations))

	var g errgroup.Group
	g.SetLimit(m.preload)
	for i, loc := range locations {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			docs[i], errs[i] = m.load(loc)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// appendDocument registers the input's resources and copies its body.
func (m *Merger) appendDocument(ctx context.Context, res *Result, in *loaded) Input {
	out := res.Document
	stats := Input{Location: in.location, Path: in.path}

	out.AdoptNamespaces(in.doc)

	// New ids must not collide with anything this input's content can
	// reference, carried or not.
	var reserved []string
	reserved = append(reserved, in.doc.RelationshipIDs()...)
	for _, n := range in.doc.Body() {
		reserved = append(reserved, docx.RelationshipRefs(n)...)
	}

	// bound holds the output ids this input's content may legitimately use.
	bound := make(map[string]bool)
	remap := make(map[string]string)
	for _, r := range in.doc.Resources().All() {
		existing, taken := out.Resources().Get(r.ID)
		switch {
		case taken && existing.SameAs(r):
			bound[r.ID] = true
			continue
		case !taken && !out.HasRelationshipID(r.ID):
			if _, err := out.AddResource(r); err != nil {
				logging.WarnContext(ctx, "resource not registered", "location", in.location, "resource_id", r.ID, "error", err)
				continue
			}
			bound[r.ID] = true
			stats.Resources++
			continue
		}

		c := Conflict{Location: in.location, ID: r.ID, Existing: existing.Target, Incoming: r.Target}
		if m.policy == Remap {
			incoming := r
			incoming.ID = out.NextResourceID(reserved...)
			if _, err := out.AddResource(incoming); err != nil {
				logging.WarnContext(ctx, "resource not registered", "location", in.location, "resource_id", incoming.ID, "error", err)
			} else {
				remap[r.ID] = incoming.ID
				bound[incoming.ID] = true
				c.RemappedTo = incoming.ID
				stats.Resources++
			}
		} else if taken {
			bound[r.ID] = true
		}
		res.Conflicts = append(res.Conflicts, c)
		action := "kept_first"
		if c.RemappedTo != "" {
			action = "remapped"
		}
		logging.ResourceConflict(ctx, in.location, r.ID, action,
			"existing", c.Existing, "incoming", c.Incoming, "new_id", c.RemappedTo)
		m.emit(Event{Type: EventResourceConflict, Index: len(res.Inputs), Location: in.location, Conflict: &c})
	}

	for _, n := range in.doc.Body() {
		node := docx.Clone(n)
		docx.StripSections(node)
		docx.RewriteRelationshipIDs(node, remap)
		for _, id := range docx.RelationshipRefs(node) {
			if !bound[id] {
				stats.Unbound++
			}
		}
		out.AppendBody(node)
		stats.Nodes++
	}
	if stats.Unbound > 0 {
		logging.DebugContext(ctx, "content references relationships that are not merged",
			"location", in.location, "references", stats.Unbound)
	}
	return stats
}

// appendPageBreak ends the output's current content with a page break: as a
// new run of the last paragraph, or in a paragraph of its own when the body
// is empty or ends in a table.
func appendPageBreak(out *docx.Document) {
	last := out.LastContent()
	if docx.IsParagraph(last) {
		xmlquery.AddChild(last, docx.NewPageBreakRun())
		return
	}
	out.AppendBody(docx.NewParagraph(docx.NewPageBreakRun()))
}

func (m *Merger) emit(e Event) {
	if m.observer != nil {
		m.observer(e)
	}
}
