package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindTask(t *testing.T) {
	mc := &ManagedCertificate{
		PreRequestTasks: []DeploymentTaskConfig{
			{ID: "p1", TaskName: "notify"},
			{ID: "p2", TaskName: "stop-service"},
		},
		PostRequestTasks: []DeploymentTaskConfig{
			{ID: "t1", TaskName: "notify"},
			{ID: "t2", TaskName: "Export"},
			{ID: "stop-service", TaskName: "start-service"},
		},
	}

	tests := []struct {
		name   string
		taskID string
		wantID string
		found  bool
	}{
		{"按 ID 匹配后置任务", "t1", "t1", true},
		{"按 ID 匹配前置任务", "p1", "p1", true},
		{"ID 优先于名称", "stop-service", "stop-service", true},
		{"唯一名称不区分大小写", "export", "t2", true},
		{"名称在两个列表重复", "notify", "", false},
		{"不存在", "missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, ok := mc.FindTask(tt.taskID)
			require.Equal(t, tt.found, ok)
			if !tt.found {
				assert.Nil(t, task)
				return
			}
			assert.Equal(t, tt.wantID, task.ID)
		})
	}
}
