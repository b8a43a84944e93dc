package scanner

import "regexp"

// Family names a canonical rule family. Names are normative, matching the
// specification's prose; they are not meant to double as user-facing code
// identifiers.
type Family string

const (
	FamilyPlanningStall     Family = "planning_stall"
	FamilyResearchLoop      Family = "research_loop"
	FamilyEmptyTODO         Family = "empty_todo"
	FamilyAnalysisParalysis Family = "analysis_paralysis"
	FamilyFalseCompletion   Family = "false_completion"
	FamilyProgressSignal    Family = "progress_signal"
)

// Action is what the Intervention Controller should do with a Match.
type Action string

const (
	ActionTrack              Action = "track"
	ActionInterruptAndInject Action = "interrupt-and-inject"
)

// Rule is one pattern evaluated against each completed line.
type Rule struct {
	ID       string
	Family   Family
	Priority int
	Action   Action
	Pattern  *regexp.Regexp
	// CodeBlockSuppressed rules do not fire while the line falls between a
	// code block opener and its closer.
	CodeBlockSuppressed bool
}

// DefaultRules is the canonical rule set described by the pattern scanner's
// rule families. Evaluation order within a chunk is (priority desc, rule_id
// asc), which Scanner enforces by sorting this slice once at construction.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:                  "planning-stall-intent",
			Family:              FamilyPlanningStall,
			Priority:            50,
			Action:              ActionInterruptAndInject,
			CodeBlockSuppressed: true,
			Pattern:             regexp.MustCompile(`(?i)\b(i will|i'll|let me)\s+(plan|outline|think about|first (figure out|decide))\b`),
		},
		{
			ID:                  "research-loop-indefinite",
			Family:              FamilyResearchLoop,
			Priority:            50,
			Action:              ActionInterruptAndInject,
			CodeBlockSuppressed: true,
			Pattern:             regexp.MustCompile(`(?i)\b(let me explore|i need to research more|i'll (keep )?(look(ing)? into|investigat(e|ing)))\b`),
		},
		{
			ID:                  "analysis-paralysis-enumeration",
			Family:              FamilyAnalysisParalysis,
			Priority:            40,
			Action:              ActionInterruptAndInject,
			CodeBlockSuppressed: true,
			Pattern:             regexp.MustCompile(`(?i)\b(option (a|b|c|1|2|3)|on one hand|alternatively,? we could)\b`),
		},
		{
			ID:       "false-completion-claim",
			Family:   FamilyFalseCompletion,
			Priority: 60,
			Action:   ActionInterruptAndInject,
			Pattern:  regexp.MustCompile(`(?i)\b(all done|that('s| i)s? (complete|finished)|everything (is|works) (working|now|fine))\b`),
		},
		{
			ID:       "progress-file-created",
			Family:   FamilyProgressSignal,
			Priority: 70,
			Action:   ActionTrack,
			Pattern:  regexp.MustCompile(`(?i)\b(created|wrote|writing) (file |to )?[\w./-]+\.\w+\b`),
		},
		{
			ID:       "progress-test-passed",
			Family:   FamilyProgressSignal,
			Priority: 70,
			Action:   ActionTrack,
			Pattern:  regexp.MustCompile(`(?i)\b(tests? passed|PASS\b|ok\s+\S+\s+\d+\.\d+s)\b`),
		},
		{
			ID:       "progress-code-block-opener",
			Family:   FamilyProgressSignal,
			Priority: 70,
			Action:   ActionTrack,
			Pattern:  regexp.MustCompile("^```"),
		},
	}
}

// todoPattern matches a TODO marker; the empty-TODO rule needs bounded
// lookahead rather than a single-line regex, so it is handled specially in
// Scanner rather than folded into Rule.
var todoPattern = regexp.MustCompile(`(?i)\bTODO\b`)

// codeBlockFence matches a fenced code block opener or closer.
var codeBlockFence = regexp.MustCompile("^```")
