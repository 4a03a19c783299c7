package memory_test

import (
	"encoding/json"
	"testing"

	"github.com/bdobrica/butai/internal/butai/memory"
)

func entry(text string, tags []string, topics []string) memory.Entry {
	return memory.NewEntry(text, memory.NewTagSet(tags...), memory.NewTagSet(topics...))
}

func TestRetrieve_Tiers(t *testing.T) {
	pool := []memory.Entry{
		entry("a", []string{"海达", "剧院"}, []string{"人物", "地点"}),
		entry("b", []string{"门票"}, []string{"物品"}),
		entry("c", []string{"海达"}, []string{"人物"}),
		entry("d", []string{"天气"}, []string{"话题"}),
	}

	tests := []struct {
		name     string
		query    memory.Query
		fallback bool
		wantTier memory.Tier
		wantText string
	}{
		{
			name:     "tag superset wins over overlap",
			query:    memory.Query{Tags: memory.NewTagSet("海达", "剧院"), Topics: memory.NewTagSet("人物")},
			wantTier: memory.TierTags,
			wantText: "a",
		},
		{
			name:     "single tag keeps last two supersets",
			query:    memory.Query{Tags: memory.NewTagSet("海达")},
			wantTier: memory.TierTags,
			wantText: "ac",
		},
		{
			name:     "topic containment when tags miss",
			query:    memory.Query{Tags: memory.NewTagSet("易卜生"), Topics: memory.NewTagSet("人物")},
			wantTier: memory.TierTopics,
			wantText: "ac",
		},
		{
			name:     "intersection when no superset",
			query:    memory.Query{Tags: memory.NewTagSet("门票", "演员"), Topics: memory.NewTagSet("职业")},
			wantTier: memory.TierOverlap,
			wantText: "b",
		},
		{
			name:     "fallback to most recent",
			query:    memory.Query{Tags: memory.NewTagSet("咖啡")},
			fallback: true,
			wantTier: memory.TierRecent,
			wantText: "d",
		},
		{
			name:     "no fallback for self memory",
			query:    memory.Query{Tags: memory.NewTagSet("咖啡")},
			wantTier: memory.TierNone,
			wantText: "",
		},
		{
			name:     "empty query never matches containment tiers",
			query:    memory.Query{},
			fallback: true,
			wantTier: memory.TierRecent,
			wantText: "d",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := memory.Retrieve(tt.query, pool, tt.fallback)
			if got.Tier != tt.wantTier {
				t.Errorf("tier = %v, want %v", got.Tier, tt.wantTier)
			}
			if got.Text() != tt.wantText {
				t.Errorf("text = %q, want %q", got.Text(), tt.wantText)
			}
			if len(got.Entries) > memory.MaxTierMatches {
				t.Errorf("got %d entries, cap is %d", len(got.Entries), memory.MaxTierMatches)
			}
		})
	}
}

func TestRetrieve_CapKeepsLastMatchesInOrder(t *testing.T) {
	var pool []memory.Entry
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		pool = append(pool, entry(text, []string{"海达"}, nil))
	}
	got := memory.Retrieve(memory.Query{Tags: memory.NewTagSet("海达")}, pool, false)
	if got.Text() != "45" {
		t.Errorf("expected last two matches in encounter order, got %q", got.Text())
	}
}

func TestRetrieve_EmptyPool(t *testing.T) {
	got := memory.Retrieve(memory.Query{Tags: memory.NewTagSet("x")}, nil, true)
	if got.Tier != memory.TierNone || got.Text() != "" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestTagSet_JSON(t *testing.T) {
	in := memory.NewTagSet("b", "a", "", "c")
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `["a","b","c"]` {
		t.Errorf("unexpected encoding %s", data)
	}
	var out memory.TagSet
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip changed set: %v", out.Sorted())
	}
}

func TestLastTurn_RecordMergesSameSpeaker(t *testing.T) {
	var turn memory.LastTurn
	turn.Record("你", "欢迎。", "，")
	turn.Record("陌生人", "你好", "，")
	turn.Record("陌生人", "在吗", "，")

	if len(turn.Utterances) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(turn.Utterances))
	}
	if got := turn.Utterances[1].Text; got != "你好，在吗" {
		t.Errorf("merged text = %q", got)
	}
	if turn.Speaker() != "陌生人" {
		t.Errorf("speaker = %q", turn.Speaker())
	}
	since := turn.Since("你")
	if len(since) != 1 || since[0].Text != "你好，在吗" {
		t.Errorf("Since = %+v", since)
	}
}

func TestTurns_IsolatedPerTriple(t *testing.T) {
	turns := memory.NewTurns()
	var turn memory.LastTurn
	turn.Record("陌生人", "hi", "，")
	turns.Set("@a:x", "welcome", "陌生人", turn)

	got := turns.Get("@a:x", "welcome", "陌生人")
	got.Record("陌生人", "mutated", "，")
	if again := turns.Get("@a:x", "welcome", "陌生人"); again.Utterances[0].Text != "hi" {
		t.Error("Get must return a copy")
	}
	if other := turns.Get("@a:x", "chapter2", "陌生人"); len(other.Utterances) != 0 {
		t.Error("buffers must be per scenario")
	}
	turns.Forget("@a:x")
	if gone := turns.Get("@a:x", "welcome", "陌生人"); len(gone.Utterances) != 0 {
		t.Error("Forget left a buffer behind")
	}
}

func TestPools_LimitAndExport(t *testing.T) {
	p := memory.NewPools(2)
	for _, text := range []string{"1", "2", "3"} {
		p.Append("@a:x", "welcome", entry(text, []string{"t"}, nil))
	}
	p.Append("@a:x", "chapter2", entry("other", nil, nil))

	pool := p.Pool("@a:x", "welcome")
	if len(pool) != 2 || pool[0].Text != "2" || pool[1].Text != "3" {
		t.Fatalf("unexpected pool %+v", pool)
	}
	if p.Len("@a:x") != 3 {
		t.Errorf("Len = %d", p.Len("@a:x"))
	}

	exported := p.Export()
	restored := memory.NewPools(0)
	restored.Import(exported)
	if got := restored.Pool("@a:x", "chapter2"); len(got) != 1 || got[0].Text != "other" {
		t.Errorf("import lost data: %+v", got)
	}

	p.Forget("@a:x")
	if p.Len("@a:x") != 0 {
		t.Error("Forget left entries behind")
	}
}
