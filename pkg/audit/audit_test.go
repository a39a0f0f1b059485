package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRecorder(t *testing.T) {
	r := NewMemoryRecorder()
	r.Record(Entry{ID: 1, Kind: EntryViolation, AccountID: "ACC-1", RuleName: "daily_loss", Timestamp: time.Now()})
	r.Record(Entry{ID: 2, Kind: EntryReset, AccountID: "ACC-1", Timestamp: time.Now()})
	r.Record(Entry{ID: 3, Kind: EntryViolation, AccountID: "ACC-2", RuleName: "max_position", Timestamp: time.Now()})

	assert.Len(t, r.Entries(), 3)

	violations := r.ByKind(EntryViolation)
	assert.Len(t, violations, 2)
	assert.Equal(t, "daily_loss", violations[0].RuleName)

	// 返回的是拷贝，外部改动不污染内部状态
	entries := r.Entries()
	entries[0].AccountID = "HACKED"
	assert.Equal(t, "ACC-1", r.Entries()[0].AccountID)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "risk.audit.violation", subjectFor(EntryViolation))
	assert.Equal(t, "risk.audit.enforcement_failed", subjectFor(EntryEnforcementFailed))
}
