package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"snowbridge/internal/models"
	"snowbridge/pkg/config"
	"snowbridge/pkg/logger"
)

// TicketBridge ServiceNow桥接接口
// 所有操作把传输层错误转换为Success=false的结果，绝不跨边界抛出
type TicketBridge interface {
	QueryTable(ctx context.Context, table string, params map[string]string) *QueryResult
	GetRecord(ctx context.Context, table, sysID string) *RecordResult
	CreateRecord(ctx context.Context, table string, data models.Record) *RecordResult
	UpdateRecord(ctx context.Context, table, sysID string, data models.Record) *RecordResult
	DeleteRecord(ctx context.Context, table, sysID string) *OpResult
	HealthCheck(ctx context.Context) *HealthResult
}

// QueryResult 查询操作的统一结果封装
type QueryResult struct {
	Success bool            `json:"success"`
	Records []models.Record `json:"records,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RecordResult 单记录操作的统一结果封装
// 查询不存在的记录时Success=true且Record=nil
type RecordResult struct {
	Success bool          `json:"success"`
	Record  models.Record `json:"record,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// OpResult 无返回体操作的统一结果封装
type OpResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HealthResult 健康检查结果
type HealthResult struct {
	Success bool   `json:"success"`
	Auth    bool   `json:"auth"`
	Error   string `json:"error,omitempty"`
}

// BridgeMetrics 桥接请求指标，仅驻留内存
type BridgeMetrics struct {
	TotalRequests   int64   `json:"total_requests"`
	SuccessRequests int64   `json:"success_requests"`
	FailedRequests  int64   `json:"failed_requests"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
}

// ServiceNowBridge ServiceNow Table API客户端
type ServiceNowBridge struct {
	instanceURL string
	username    string
	password    string
	client      *http.Client

	mu           sync.Mutex
	metrics      BridgeMetrics
	totalLatency time.Duration
}

// NewServiceNowBridge 创建ServiceNow桥接客户端
func NewServiceNowBridge(cfg *config.ServiceNowConfig) *ServiceNowBridge {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &ServiceNowBridge{
		instanceURL: cfg.InstanceURL,
		username:    cfg.Username,
		password:    cfg.Password,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// QueryTable 查询表记录
// 默认请求所有display value并禁用引用链接展开，得到可直接入库的反规范化数据
func (b *ServiceNowBridge) QueryTable(ctx context.Context, table string, params map[string]string) *QueryResult {
	query := url.Values{}
	query.Set("sysparm_display_value", "all")
	query.Set("sysparm_exclude_reference_link", "true")
	for key, value := range params {
		query.Set(key, value)
	}

	reqURL := fmt.Sprintf("%s/api/now/table/%s?%s", b.instanceURL, table, query.Encode())

	body, status, err := b.doRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &QueryResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return &QueryResult{Success: false, Error: fmt.Sprintf("ServiceNow返回状态码 %d", status)}
	}

	var envelope struct {
		Result []models.Record `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &QueryResult{Success: false, Error: fmt.Sprintf("解析响应失败: %v", err)}
	}

	return &QueryResult{Success: true, Records: envelope.Result}
}

// GetRecord 获取单条记录，不存在时返回成功且记录为空
func (b *ServiceNowBridge) GetRecord(ctx context.Context, table, sysID string) *RecordResult {
	reqURL := fmt.Sprintf("%s/api/now/table/%s/%s?sysparm_display_value=all&sysparm_exclude_reference_link=true",
		b.instanceURL, table, sysID)

	body, status, err := b.doRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &RecordResult{Success: false, Error: err.Error()}
	}
	if status == http.StatusNotFound {
		return &RecordResult{Success: true, Record: nil}
	}
	if status != http.StatusOK {
		return &RecordResult{Success: false, Error: fmt.Sprintf("ServiceNow返回状态码 %d", status)}
	}

	return decodeRecordEnvelope(body)
}

// CreateRecord 创建记录
func (b *ServiceNowBridge) CreateRecord(ctx context.Context, table string, data models.Record) *RecordResult {
	reqURL := fmt.Sprintf("%s/api/now/table/%s", b.instanceURL, table)

	payload, err := json.Marshal(data)
	if err != nil {
		return &RecordResult{Success: false, Error: fmt.Sprintf("序列化记录失败: %v", err)}
	}

	body, status, err := b.doRequest(ctx, http.MethodPost, reqURL, payload)
	if err != nil {
		return &RecordResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return &RecordResult{Success: false, Error: fmt.Sprintf("ServiceNow返回状态码 %d", status)}
	}

	return decodeRecordEnvelope(body)
}

// UpdateRecord 更新记录
func (b *ServiceNowBridge) UpdateRecord(ctx context.Context, table, sysID string, data models.Record) *RecordResult {
	reqURL := fmt.Sprintf("%s/api/now/table/%s/%s", b.instanceURL, table, sysID)

	payload, err := json.Marshal(data)
	if err != nil {
		return &RecordResult{Success: false, Error: fmt.Sprintf("序列化记录失败: %v", err)}
	}

	body, status, err := b.doRequest(ctx, http.MethodPatch, reqURL, payload)
	if err != nil {
		return &RecordResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return &RecordResult{Success: false, Error: fmt.Sprintf("ServiceNow返回状态码 %d", status)}
	}

	return decodeRecordEnvelope(body)
}

// DeleteRecord 删除记录
func (b *ServiceNowBridge) DeleteRecord(ctx context.Context, table, sysID string) *OpResult {
	reqURL := fmt.Sprintf("%s/api/now/table/%s/%s", b.instanceURL, table, sysID)

	_, status, err := b.doRequest(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return &OpResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return &OpResult{Success: false, Error: fmt.Sprintf("ServiceNow返回状态码 %d", status)}
	}

	return &OpResult{Success: true}
}

// HealthCheck 检查实例可达性和认证有效性
func (b *ServiceNowBridge) HealthCheck(ctx context.Context) *HealthResult {
	reqURL := fmt.Sprintf("%s/api/now/table/sys_user?sysparm_limit=1", b.instanceURL)

	_, status, err := b.doRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &HealthResult{Success: false, Auth: false, Error: err.Error()}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &HealthResult{Success: false, Auth: false, Error: "认证失败"}
	}
	if status != http.StatusOK {
		return &HealthResult{Success: false, Auth: true, Error: fmt.Sprintf("ServiceNow返回状态码 %d", status)}
	}

	return &HealthResult{Success: true, Auth: true}
}

// GetMetrics 获取请求指标快照
func (b *ServiceNowBridge) GetMetrics() BridgeMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// doRequest 执行HTTP请求并记录指标
func (b *ServiceNowBridge) doRequest(ctx context.Context, method, reqURL string, payload []byte) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		b.recordMetric(0, false)
		return nil, 0, fmt.Errorf("创建请求失败: %v", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(b.username, b.password)

	start := time.Now()
	resp, err := b.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		b.recordMetric(latency, false)
		logger.GetLogger().WithError(err).Warnf("ServiceNow请求失败: %s %s", method, reqURL)
		return nil, 0, fmt.Errorf("ServiceNow请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.recordMetric(latency, false)
		return nil, resp.StatusCode, fmt.Errorf("读取响应失败: %v", err)
	}

	ok := resp.StatusCode < http.StatusBadRequest || resp.StatusCode == http.StatusNotFound
	b.recordMetric(latency, ok)

	return body, resp.StatusCode, nil
}

// recordMetric 更新请求计数和平均延迟
func (b *ServiceNowBridge) recordMetric(latency time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalRequests++
	if ok {
		b.metrics.SuccessRequests++
	} else {
		b.metrics.FailedRequests++
	}

	b.totalLatency += latency
	b.metrics.AvgLatencyMS = float64(b.totalLatency.Milliseconds()) / float64(b.metrics.TotalRequests)
}

// decodeRecordEnvelope 解析单记录响应体
func decodeRecordEnvelope(body []byte) *RecordResult {
	var envelope struct {
		Result models.Record `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &RecordResult{Success: false, Error: fmt.Sprintf("解析响应失败: %v", err)}
	}
	return &RecordResult{Success: true, Record: envelope.Result}
}
