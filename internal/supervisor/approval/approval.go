// Package approval implements the Approval Classifier: it maps an agent's
// approval request to one of a small closed set of question kinds, builds
// an operator-facing question, and translates the operator's eventual
// answer back into the response shape the agent side-channel expects.
package approval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/answer"
	"github.com/tidwall/gjson"
)

// Kind is the closed set of question kinds the classifier can produce.
type Kind string

const (
	KindToolApproval    Kind = "TOOL_APPROVAL"
	KindPlanApproval    Kind = "PLAN_APPROVAL"
	KindQuestion        Kind = "QUESTION"
	KindCommandApproval Kind = "COMMAND_APPROVAL"
	KindPatchApproval   Kind = "PATCH_APPROVAL"
)

// SubQuestion is one entry of a QUESTION kind's sub-question list.
type SubQuestion struct {
	Question string
	Options  []string
}

// Request is an agent's approval request, as delivered by either side
// channel named in §4.6: a structured (tool name, tool input) pair from the
// callback bridge, or free-form prompt text from inline I/O.
type Request struct {
	ToolName  string
	ToolInput json.RawMessage
	Prompt    string
}

// Question is the operator-facing synthesis of a Request.
type Question struct {
	Kind         Kind
	Prompt       string
	Options      []string
	SubQuestions []SubQuestion
	Original     json.RawMessage // original_input, retained for answer translation
}

// Response is the translated reply delivered back to the agent side
// channel. Behavior/Message/UpdatedInput serve the callback-bridge family;
// Approved/Reason serve the COMMAND/PATCH free-form family.
type Response struct {
	Behavior     string
	Message      string
	UpdatedInput json.RawMessage
	Approved     *bool
	Reason       string
}

var knownKeys = []string{"command", "file_path", "path", "pattern", "query", "url", "content"}

var patchKeywords = []string{"patch", "apply", "modify", "delete", "create", "write"}

// Classify maps req to an operator-facing Question.
func Classify(req Request) Question {
	if req.ToolName == "" {
		return classifyFreeform(req)
	}
	switch toolFamily(req.ToolName) {
	case toolFamilyPlan:
		return classifyPlan(req)
	case toolFamilyQuestion:
		return classifyQuestion(req)
	default:
		return classifyToolApproval(req)
	}
}

type toolFamilyKind int

const (
	toolFamilyGeneric toolFamilyKind = iota
	toolFamilyPlan
	toolFamilyQuestion
)

func toolFamily(name string) toolFamilyKind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "exitplanmode"), strings.Contains(lower, "exit_plan_mode"),
		strings.Contains(lower, "finishplanning"), strings.Contains(lower, "finish_planning"):
		return toolFamilyPlan
	case strings.Contains(lower, "askuserquestion"), strings.Contains(lower, "ask_user_question"):
		return toolFamilyQuestion
	default:
		return toolFamilyGeneric
	}
}

func classifyToolApproval(req Request) Question {
	prompt := req.ToolName + "?"
	if summary := summarizeInput(req.ToolInput); summary != "" {
		prompt = fmt.Sprintf("%s (%s)?", req.ToolName, summary)
	}
	return Question{
		Kind:     KindToolApproval,
		Prompt:   prompt,
		Options:  []string{"allow", "deny"},
		Original: req.ToolInput,
	}
}

func classifyPlan(req Request) Question {
	plan := gjson.GetBytes(req.ToolInput, "plan").String()
	if plan == "" {
		plan = prettyJSON(req.ToolInput)
	}
	return Question{
		Kind:     KindPlanApproval,
		Prompt:   plan,
		Options:  []string{"approve", "reject"},
		Original: req.ToolInput,
	}
}

func classifyQuestion(req Request) Question {
	return Question{
		Kind:         KindQuestion,
		SubQuestions: extractSubQuestions(req.ToolInput),
		Original:     req.ToolInput,
	}
}

func classifyFreeform(req Request) Question {
	lower := strings.ToLower(req.Prompt)
	kind := KindCommandApproval
	for _, kw := range patchKeywords {
		if strings.Contains(lower, kw) {
			kind = KindPatchApproval
			break
		}
	}
	return Question{
		Kind:    kind,
		Prompt:  req.Prompt,
		Options: []string{"approve", "deny"},
	}
}

// Translate computes the response to deliver back to the agent, given the
// classified question and the operator's (or auto-deny's) answer strings.
// Only the first answer governs the decision for every kind except
// QUESTION, where every answer is carried through verbatim.
func Translate(q Question, answers []string) Response {
	var first string
	if len(answers) > 0 {
		first = answers[0]
	}
	a := answer.Parse(first)

	switch q.Kind {
	case KindToolApproval:
		if a.Decision == "allow" {
			return Response{Behavior: "allow"}
		}
		return Response{Behavior: "deny", Message: a.Reason}

	case KindPlanApproval:
		if a.Decision == "approve" {
			return Response{Behavior: "allow", UpdatedInput: q.Original}
		}
		return Response{Behavior: "deny", Message: a.Reason}

	case KindQuestion:
		return Response{Behavior: "allow", UpdatedInput: mergeAnswers(q.Original, answers)}

	case KindCommandApproval, KindPatchApproval:
		approved := a.Decision == "approve" || a.Decision == "allow" || a.Decision == "yes"
		return Response{Approved: &approved, Reason: a.Reason}

	default:
		return Response{Behavior: "deny", Message: "unrecognized question kind"}
	}
}

func summarizeInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	for _, key := range knownKeys {
		res := gjson.GetBytes(raw, key)
		if !res.Exists() || res.Type != gjson.String || res.Str == "" {
			continue
		}
		s := res.Str
		if key == "content" && len(s) > 100 {
			s = s[:100] + "…"
		}
		return fmt.Sprintf("%s: %s", key, s)
	}
	return ""
}

func extractSubQuestions(raw json.RawMessage) []SubQuestion {
	questions := gjson.GetBytes(raw, "questions")
	if !questions.IsArray() {
		return nil
	}
	var subs []SubQuestion
	questions.ForEach(func(_, q gjson.Result) bool {
		var opts []string
		q.Get("options").ForEach(func(_, o gjson.Result) bool {
			opts = append(opts, o.String())
			return true
		})
		subs = append(subs, SubQuestion{Question: q.Get("question").String(), Options: opts})
		return true
	})
	return subs
}

func mergeAnswers(original json.RawMessage, answers []string) json.RawMessage {
	fields := map[string]any{}
	if len(original) > 0 {
		_ = json.Unmarshal(original, &fields)
	}
	fields["answers"] = answers
	out, err := json.Marshal(fields)
	if err != nil {
		return original
	}
	return out
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
