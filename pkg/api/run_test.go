package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, api.RunPlanning.IsTerminal())
	assert.False(t, api.RunRunning.IsTerminal())
	assert.False(t, api.RunWaitingHITL.IsTerminal())
	assert.True(t, api.RunSucceeded.IsTerminal())
	assert.True(t, api.RunFailed.IsTerminal())
	assert.True(t, api.RunCancelled.IsTerminal())
}

func TestRunStatusTransitions(t *testing.T) {
	assert.True(t, api.RunPlanning.CanTransition(api.RunRunning))
	assert.True(t, api.RunRunning.CanTransition(api.RunWaitingHITL))
	assert.True(t, api.RunRunning.CanTransition(api.RunSucceeded))
	assert.True(t, api.RunWaitingHITL.CanTransition(api.RunRunning))
	assert.True(t, api.RunWaitingHITL.CanTransition(api.RunCancelled))

	// Terminal states permit nothing
	assert.False(t, api.RunSucceeded.CanTransition(api.RunRunning))
	assert.False(t, api.RunCancelled.CanTransition(api.RunRunning))
	assert.False(t, api.RunFailed.CanTransition(api.RunWaitingHITL))

	// No skipping directly from planning into the pause
	assert.False(t, api.RunPlanning.CanTransition(api.RunWaitingHITL))
}

func TestRunRecordEnd(t *testing.T) {
	rec := &api.RunRecord{RunID: "run-1", Status: api.RunRunning}
	require.Nil(t, rec.EndedAt)

	rec.End(api.RunSucceeded)
	assert.Equal(t, api.RunSucceeded, rec.Status)
	require.NotNil(t, rec.EndedAt)
	assert.False(t, rec.EndedAt.IsZero())
}

func TestValidationReportAdd(t *testing.T) {
	report := &api.ValidationReport{}

	report.Add(&api.ValidationItem{
		Policy: api.PolicyExists, Dept: "finance", Status: api.ItemOK,
	})
	report.Add(&api.ValidationItem{
		Policy: api.PolicyExists, Dept: "parks", Status: api.ItemMiss,
	})
	report.Add(&api.ValidationItem{
		Policy: api.PolicySumCheck, Dept: "finance", Status: api.ItemDiff,
	})
	report.Add(&api.ValidationItem{
		Policy: api.PolicySumCheck, Dept: "parks", Status: api.ItemOK,
	})

	assert.Equal(t, 2, report.Summary.OK)
	assert.Equal(t, 1, report.Summary.Warn)
	assert.Equal(t, 1, report.Summary.Fail)
	assert.Len(t, report.Items, 4)
}
