// Package scanner detects toxic or progress-relevant patterns in a child
// process's output in real time, line by line, with cooldowns to avoid
// repeatedly firing the same rule. A bounded window of recent output is kept
// only to build match excerpts.
package scanner

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/pfin/nova-mcp/internal/ids"
	"github.com/pfin/nova-mcp/internal/linebuf"
)

const (
	defaultWindowSize    = 64 << 10
	defaultContextRadius = 256
	defaultTODOLookahead = 5
)

// Match is fired when a rule matches a line, carrying enough context for a
// consumer to decide what to do without re-reading the stream.
type Match struct {
	RuleID      string
	Family      Family
	Action      Action
	ExecutionID ids.ExecutionID
	Start       int64
	End         int64
	Excerpt     string
	Suppressed  bool // true if this would have matched but was cooldown-suppressed
}

var funcHeaderPattern = regexp.MustCompile(`(?i)^\s*(func |def |class |public |private |protected )\S`)

type pendingTODO struct {
	start     int64
	remaining int
}

// Scanner evaluates DefaultRules (or a caller-supplied set) against one
// execution's output stream.
type Scanner struct {
	executionID ids.ExecutionID
	rules       []Rule
	cooldown    *catrate.Limiter

	mu       sync.Mutex
	lineBuf  linebuf.Buffer
	window   []byte // bounded ring for context excerpts, not rule evaluation
	winLimit int

	inCodeBlock   bool
	pendingTODO   *pendingTODO
	todoLookahead int

	onMatch func(Match)

	suppressedCounts map[string]int
}

// New builds a Scanner for one execution. A zero windowSize falls back to a
// 64KiB window. contextRadius is accepted but not used: excerpts are always
// built from the fixed 256-byte default radius (see excerpt).
func New(executionID ids.ExecutionID, rules []Rule, windowSize, contextRadius int, cooldown time.Duration) *Scanner {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	if contextRadius <= 0 {
		contextRadius = defaultContextRadius
	}
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	return &Scanner{
		executionID:      executionID,
		rules:            sorted,
		cooldown:         catrate.NewLimiter(map[time.Duration]int{cooldown: 1}),
		winLimit:         windowSize,
		todoLookahead:    defaultTODOLookahead,
		suppressedCounts: make(map[string]int),
	}
}

// OnMatch registers the consumer invoked for every Match, including
// cooldown-suppressed ones (with Suppressed set).
func (s *Scanner) OnMatch(fn func(Match)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMatch = fn
}

// Append extends the scanner's view with b, evaluating every newly
// completed line against the rule set.
func (s *Scanner) Append(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendWindow(b)
	lines := s.lineBuf.Feed(b)
	for _, ln := range lines {
		s.evaluateLine(ln)
	}
}

// Flush forces evaluation of any trailing partial line, for use at stream
// end.
func (s *Scanner) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ln, ok := s.lineBuf.Flush(); ok {
		s.evaluateLine(ln)
	}
}

func (s *Scanner) appendWindow(b []byte) {
	s.window = append(s.window, b...)
	if len(s.window) > s.winLimit {
		s.window = s.window[len(s.window)-s.winLimit:]
	}
}

func (s *Scanner) evaluateLine(ln linebuf.Line) {
	text := stripANSI(string(ln.Text))

	if codeBlockFence.MatchString(text) {
		s.inCodeBlock = !s.inCodeBlock
	}

	s.advanceTODOLookahead(ln, text)

	for _, r := range s.rules {
		if r.CodeBlockSuppressed && s.inCodeBlock {
			continue
		}
		if r.Family == FamilyEmptyTODO {
			continue // handled by advanceTODOLookahead
		}
		if !r.Pattern.MatchString(text) {
			continue
		}
		s.fire(r.ID, r.Family, r.Action, ln.Start, ln.Start+int64(len(ln.Text)))
	}
}

// advanceTODOLookahead implements the "empty TODO" rule: a TODO marker is
// toxic only if not followed, within a bounded lookahead, by concrete
// output (a code block opener, a file-creation notice, or a function/class
// header).
func (s *Scanner) advanceTODOLookahead(ln linebuf.Line, text string) {
	if s.pendingTODO != nil {
		if codeBlockFence.MatchString(text) || funcHeaderPattern.MatchString(text) {
			s.pendingTODO = nil
		} else {
			for _, r := range s.rules {
				if r.ID == "progress-file-created" && r.Pattern.MatchString(text) {
					s.pendingTODO = nil
					break
				}
			}
		}
	}
	if s.pendingTODO != nil {
		s.pendingTODO.remaining--
		if s.pendingTODO.remaining <= 0 {
			s.fire("empty-todo-unfollowed", FamilyEmptyTODO, ActionInterruptAndInject, s.pendingTODO.start, s.pendingTODO.start)
			s.pendingTODO = nil
		}
	}
	if s.pendingTODO == nil && todoPattern.MatchString(text) {
		s.pendingTODO = &pendingTODO{start: ln.Start, remaining: s.todoLookahead}
	}
}

func (s *Scanner) fire(ruleID string, family Family, action Action, start, end int64) {
	category := string(s.executionID) + "|" + ruleID
	_, allowed := s.cooldown.Allow(category)

	excerpt := s.excerpt(start, end)
	m := Match{
		RuleID:      ruleID,
		Family:      family,
		Action:      action,
		ExecutionID: s.executionID,
		Start:       start,
		End:         end,
		Excerpt:     excerpt,
		Suppressed:  !allowed,
	}
	if !allowed {
		s.suppressedCounts[ruleID]++
	}
	if s.onMatch != nil {
		s.onMatch(m)
	}
}

// excerpt returns the trailing 2*defaultContextRadius (512) bytes of the
// bounded window, or the whole window if it is shorter. start and end are
// not used: the excerpt is not centred on the match, so for a match that is
// not near the end of the window it may not contain the matched text.
func (s *Scanner) excerpt(start, end int64) string {
	if len(s.window) == 0 {
		return ""
	}
	// best-effort: the window holds only the trailing bytes, so treat it as
	// already the relevant context rather than trying to map absolute
	// offsets into it precisely.
	if len(s.window) > 2*defaultContextRadius {
		return string(s.window[len(s.window)-2*defaultContextRadius:])
	}
	return string(s.window)
}

// SuppressedCount reports how many times ruleID has been suppressed by
// cooldown for this execution so far.
func (s *Scanner) SuppressedCount(ruleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressedCounts[ruleID]
}
