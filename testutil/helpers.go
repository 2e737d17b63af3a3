// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	st := testutil.WaitForStatus(t, orch, id, workflow.StatusCompleted, 5*time.Second)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BaSui01/campaignflow/workflow"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}
	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}
	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// StateReader 可查询实例状态的组件，*workflow.Orchestrator 实现之
type StateReader interface {
	GetState(ctx context.Context, id string) (*workflow.WorkflowState, error)
}

// WaitForStatus 轮询直到实例进入 want 状态，超时则测试失败
func WaitForStatus(t *testing.T, r StateReader, id string, want workflow.Status, timeout time.Duration) *workflow.WorkflowState {
	t.Helper()

	var last *workflow.WorkflowState
	ok := WaitFor(func() bool {
		st, err := r.GetState(context.Background(), id)
		if err != nil {
			return false
		}
		last = st
		return st.Status == want
	}, timeout)
	if !ok {
		got := workflow.Status("<none>")
		if last != nil {
			got = last.Status
		}
		t.Fatalf("workflow %s did not reach %s within %v (last status %s)", id, want, timeout, got)
	}
	return last
}

// =============================================================================
// 📡 事件辅助
// =============================================================================

// CollectEvents 读取事件直到 stop 类型出现或超时
func CollectEvents(ch <-chan workflow.Event, stop workflow.EventType, timeout time.Duration) []workflow.Event {
	var out []workflow.Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
			if e.Type == stop {
				return out
			}
		case <-deadline:
			return out
		}
	}
}

// EventTypes 提取事件类型序列
func EventTypes(events []workflow.Event) []workflow.EventType {
	out := make([]workflow.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON 解析 JSON 字符串，失败时 panic
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
