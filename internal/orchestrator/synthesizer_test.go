package orchestrator

import (
	"context"
	"reflect"
	"testing"
)

func planTasks(titles ...string) []*Task {
	tasks := make([]*Task, len(titles))
	for i, title := range titles {
		tasks[i] = &Task{ID: "id-" + title, Title: title, Status: StatusPending}
	}
	return tasks
}

func TestNormalizeDependenciesStepPatterns(t *testing.T) {
	tasks := planTasks("fetch", "summarize", "translate")
	tasks[1].DependsOn = []string{"step 1"}
	tasks[2].DependsOn = []string{"Task_2"}

	NormalizeDependencies(tasks)

	if !reflect.DeepEqual(tasks[1].DependsOn, []string{"id-fetch"}) {
		t.Fatalf("tasks[1].DependsOn = %v", tasks[1].DependsOn)
	}
	if !reflect.DeepEqual(tasks[2].DependsOn, []string{"id-summarize"}) {
		t.Fatalf("tasks[2].DependsOn = %v", tasks[2].DependsOn)
	}
}

func TestNormalizeDependenciesNumericAndTitle(t *testing.T) {
	tasks := planTasks("fetch", "summarize", "translate")
	tasks[1].DependsOn = []string{"1"}
	tasks[2].DependsOn = []string{"Summarize"}

	NormalizeDependencies(tasks)

	if !reflect.DeepEqual(tasks[1].DependsOn, []string{"id-fetch"}) {
		t.Fatalf("tasks[1].DependsOn = %v", tasks[1].DependsOn)
	}
	if !reflect.DeepEqual(tasks[2].DependsOn, []string{"id-summarize"}) {
		t.Fatalf("tasks[2].DependsOn = %v", tasks[2].DependsOn)
	}
}

func TestNormalizeDependenciesExistingID(t *testing.T) {
	tasks := planTasks("fetch", "summarize")
	tasks[1].DependsOn = []string{"id-fetch"}

	NormalizeDependencies(tasks)

	if !reflect.DeepEqual(tasks[1].DependsOn, []string{"id-fetch"}) {
		t.Fatalf("tasks[1].DependsOn = %v", tasks[1].DependsOn)
	}
}

func TestNormalizeDependenciesDefaultsToPrevious(t *testing.T) {
	tasks := planTasks("fetch", "summarize", "translate")
	tasks[2].DependsOn = []string{"nonsense reference"}

	NormalizeDependencies(tasks)

	if len(tasks[0].DependsOn) != 0 {
		t.Fatalf("first task should have no dependencies, got %v", tasks[0].DependsOn)
	}
	if !reflect.DeepEqual(tasks[1].DependsOn, []string{"id-fetch"}) {
		t.Fatalf("tasks[1].DependsOn = %v", tasks[1].DependsOn)
	}
	if !reflect.DeepEqual(tasks[2].DependsOn, []string{"id-summarize"}) {
		t.Fatalf("unresolvable reference should default to previous task, got %v", tasks[2].DependsOn)
	}
}

func TestNormalizeDependenciesDeduplicates(t *testing.T) {
	tasks := planTasks("fetch", "summarize")
	tasks[1].DependsOn = []string{"step 1", "fetch", "id-fetch"}

	NormalizeDependencies(tasks)

	if !reflect.DeepEqual(tasks[1].DependsOn, []string{"id-fetch"}) {
		t.Fatalf("tasks[1].DependsOn = %v", tasks[1].DependsOn)
	}
}

func TestNormalizeDependenciesIdempotent(t *testing.T) {
	tasks := planTasks("fetch", "summarize", "translate")
	tasks[1].DependsOn = []string{"step 1"}
	tasks[2].DependsOn = []string{"2", "Fetch"}

	NormalizeDependencies(tasks)
	first := [][]string{tasks[0].DependsOn, tasks[1].DependsOn, tasks[2].DependsOn}
	NormalizeDependencies(tasks)
	second := [][]string{tasks[0].DependsOn, tasks[1].DependsOn, tasks[2].DependsOn}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("not idempotent: %v vs %v", first, second)
	}
}

func TestSynthesizeParsesPlanAndBindsAgents(t *testing.T) {
	caller := &stubCaller{}
	caller.enqueue(chatResponse(`[
		{"title": "Summarize the report", "agent": "summarizer",
		 "input": {"prompt": "Summarize it", "body": {"style": "bullet"}}},
		{"title": "Translate summary", "agent": "translator", "depends_on": ["step 1"]}
	]`), nil)

	s := NewSynthesizer(testConfig().LLM, caller)
	cls := Classification{SuggestedAgents: []string{"summarizer", "translator"}}
	tasks, err := s.Synthesize(context.Background(), "summarize then translate", cls, testAgents())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks", len(tasks))
	}
	if tasks[0].AgentID != "summarizer" || tasks[1].AgentID != "translator" {
		t.Fatalf("agents: %s, %s", tasks[0].AgentID, tasks[1].AgentID)
	}
	if tasks[0].ID == "" || tasks[1].ID == "" || tasks[0].ID == tasks[1].ID {
		t.Fatalf("tasks need distinct ids: %q, %q", tasks[0].ID, tasks[1].ID)
	}
	if !reflect.DeepEqual(tasks[1].DependsOn, []string{tasks[0].ID}) {
		t.Fatalf("tasks[1].DependsOn = %v", tasks[1].DependsOn)
	}
	if tasks[0].Input == nil || tasks[0].Input.Body["style"] != "bullet" {
		t.Fatalf("input bucket lost: %+v", tasks[0].Input)
	}
	if tasks[0].Status != StatusPending {
		t.Fatalf("status = %s", tasks[0].Status)
	}
}

func TestSynthesizeDropsUnknownAgents(t *testing.T) {
	caller := &stubCaller{}
	caller.enqueue(chatResponse(`[
		{"title": "Summarize", "agent": "summarizer"},
		{"title": "Launch rocket", "agent": "rocketry"}
	]`), nil)

	s := NewSynthesizer(testConfig().LLM, caller)
	cls := Classification{SuggestedAgents: []string{"summarizer"}}
	tasks, err := s.Synthesize(context.Background(), "do things", cls, testAgents())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(tasks) != 1 || tasks[0].AgentID != "summarizer" {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestSynthesizeEmptyCandidatesShortCircuits(t *testing.T) {
	caller := &stubCaller{}

	s := NewSynthesizer(testConfig().LLM, caller)
	tasks, err := s.Synthesize(context.Background(), "do it", Classification{}, testAgents())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks without candidates, got %d", len(tasks))
	}
	if len(caller.endpoints) != 0 {
		t.Fatalf("no provider call expected, got %d", len(caller.endpoints))
	}
}

func TestSynthesizeRepairsMalformedPlan(t *testing.T) {
	caller := &stubCaller{}
	caller.enqueue(chatResponse("```json\n[{\"title\": \"Summarize\", \"agent\": \"summarizer\",},]\n```"), nil)

	s := NewSynthesizer(testConfig().LLM, caller)
	cls := Classification{SuggestedAgents: []string{"summarizer"}}
	tasks, err := s.Synthesize(context.Background(), "summarize", cls, testAgents())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks", len(tasks))
	}
}
