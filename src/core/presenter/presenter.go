package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"scenegraph-server-go/src/core/orchestrator"
	"scenegraph-server-go/src/core/store"
	"scenegraph-server-go/src/core/utils"
)

// ErrNotFound 本地存储与二级查询路径都没有该作业的结果
var ErrNotFound = errors.New("未找到该作业的结果")

// RankedEntry 按置信度排序后的展示条目
type RankedEntry struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Presenter 结果展示适配器
// 结果可能来自本地提交（内存存储）也可能来自服务端托管作业（记录索引/状态接口），
// 查找时透明地依次尝试这些来源
type Presenter struct {
	memory     *store.MemoryStore
	records    *store.RecordStore // 可选
	statusURL  string             // 可选的任务状态查询地址
	logger     *utils.Logger
	httpClient *http.Client
}

// NewPresenter 创建结果展示适配器，records与statusURL均可为空
func NewPresenter(memory *store.MemoryStore, records *store.RecordStore, statusURL string, logger *utils.Logger) *Presenter {
	return &Presenter{
		memory:    memory,
		records:   records,
		statusURL: statusURL,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Load 按作业ID取回结果
// 查找顺序：内存存储 → 作业记录索引 → 远端状态接口，全部落空返回ErrNotFound
func (p *Presenter) Load(ctx context.Context, jobID string) (*orchestrator.SceneGraphResult, error) {
	if result, ok := p.memory.Get(jobID); ok {
		return result, nil
	}

	if p.records != nil {
		result, err := p.records.Load(jobID)
		if err != nil {
			p.logger.Warn(fmt.Sprintf("作业记录查询失败: %v", err))
		} else if result != nil {
			return result, nil
		}
	}

	if p.statusURL != "" {
		result, err := p.fetchRemote(ctx, jobID)
		if err != nil {
			p.logger.Debug("远端状态查询失败 %v", map[string]interface{}{
				"job_id": jobID,
				"error":  err.Error(),
			})
		} else if result != nil {
			return result, nil
		}
	}

	return nil, ErrNotFound
}

// fetchRemote 向任务状态接口做尽力而为的回源查询
func (p *Presenter) fetchRemote(ctx context.Context, jobID string) (*orchestrator.SceneGraphResult, error) {
	url := strings.TrimSuffix(p.statusURL, "/") + "/" + jobID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("状态接口返回 %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result orchestrator.SceneGraphResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("状态接口响应解析失败: %v", err)
	}
	if result.JobID == "" {
		result.JobID = jobID
	}
	return &result, nil
}

// RankedObjects 对象按置信度降序排列，同分保持原始相对顺序
func RankedObjects(result *orchestrator.SceneGraphResult) []RankedEntry {
	entries := make([]RankedEntry, 0, len(result.Objects))
	for _, obj := range result.Objects {
		entries = append(entries, RankedEntry{Label: obj.Label, Score: obj.Score})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}

// RankedRelationships 关系合成为"主语 谓语 宾语"标签后按置信度降序排列，同分稳定
func RankedRelationships(result *orchestrator.SceneGraphResult) []RankedEntry {
	entries := make([]RankedEntry, 0, len(result.Relationships))
	for _, rel := range result.Relationships {
		entries = append(entries, RankedEntry{
			Label: fmt.Sprintf("%s %s %s", rel.Subject, rel.Predicate, rel.Object),
			Score: rel.Score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}

// AverageObjectConfidence 对象置信度均值，空序列为0
func AverageObjectConfidence(result *orchestrator.SceneGraphResult) float64 {
	if len(result.Objects) == 0 {
		return 0
	}
	sum := 0.0
	for _, obj := range result.Objects {
		sum += obj.Score
	}
	return sum / float64(len(result.Objects))
}

// AverageRelationshipConfidence 关系置信度均值，空序列为0
func AverageRelationshipConfidence(result *orchestrator.SceneGraphResult) float64 {
	if len(result.Relationships) == 0 {
		return 0
	}
	sum := 0.0
	for _, rel := range result.Relationships {
		sum += rel.Score
	}
	return sum / float64(len(result.Relationships))
}
