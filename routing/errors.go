package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/campaignflow/types"
)

var (
	// ErrNoEligibleVendor 没有供应商通过过滤
	ErrNoEligibleVendor = types.NewError(types.ErrNoEligibleVendor, "no eligible vendor").WithRetryable(true)
	// ErrAllVendorsFailed 决策中的所有供应商均调用失败
	ErrAllVendorsFailed = types.NewError(types.ErrAllVendorsFailed, "all vendors failed").WithRetryable(true)
	// ErrVendorNotFound 供应商未注册
	ErrVendorNotFound = types.NewError(types.ErrVendorNotFound, "vendor not found")
	// ErrVendorExists 重复注册
	ErrVendorExists = types.NewError(types.ErrInvalidRequest, "vendor already registered")
)

// NoEligibleVendorError 记录每个候选被淘汰的原因
type NoEligibleVendorError struct {
	Capability Capability
	Rejected   map[string]string
}

func (e *NoEligibleVendorError) Error() string {
	if len(e.Rejected) == 0 {
		return fmt.Sprintf("no eligible vendor for capability %q: no vendors registered", e.Capability)
	}
	ids := make([]string, 0, len(e.Rejected))
	for id := range e.Rejected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+": "+e.Rejected[id])
	}
	return fmt.Sprintf("no eligible vendor for capability %q (%s)", e.Capability, strings.Join(parts, "; "))
}

func (e *NoEligibleVendorError) Unwrap() error { return ErrNoEligibleVendor }

// AttemptRecord 单次供应商调用记录
type AttemptRecord struct {
	VendorID  string `json:"vendor_id"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Success   bool   `json:"success"`
}

// AllVendorsFailedError 汇总失败的全部尝试
type AllVendorsFailedError struct {
	Capability Capability
	Attempts   []AttemptRecord
}

func (e *AllVendorsFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.VendorID+": "+a.Error)
	}
	return fmt.Sprintf("all %d vendors failed for capability %q (%s)", len(e.Attempts), e.Capability, strings.Join(parts, "; "))
}

func (e *AllVendorsFailedError) Unwrap() error { return ErrAllVendorsFailed }

func invalidRequest(msg string) error {
	return types.NewError(types.ErrInvalidRequest, msg)
}

func vendorNotFound(id string) error {
	return fmt.Errorf("vendor %q: %w", id, ErrVendorNotFound)
}
