// 文件: pkg/audit/nats_recorder.go
// NATS 审计发布
//
// 主题按类别区分，下游各取所需:
//   risk.audit.violation / risk.audit.enforcement_failed / risk.audit.reset ...

package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix 审计主题前缀
const SubjectPrefix = "risk.audit"

// NATSRecorder 把审计条目发布到 NATS
type NATSRecorder struct {
	conn *nats.Conn
}

var _ Recorder = (*NATSRecorder)(nil)

// NewNATSRecorder 创建发布者
func NewNATSRecorder(url string) (*NATSRecorder, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSRecorder{conn: conn}, nil
}

// NewNATSRecorderWithConn 复用已有连接 (进程内多个发布者共享)
func NewNATSRecorderWithConn(conn *nats.Conn) *NATSRecorder {
	return &NATSRecorder{conn: conn}
}

// Record 发布条目
// 发布失败只打日志: 审计是旁路，不能反过来阻塞风控
func (r *NATSRecorder) Record(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[Audit] marshal entry failed: kind=%s, err=%v", entry.Kind, err)
		return
	}
	if err := r.conn.Publish(subjectFor(entry.Kind), data); err != nil {
		log.Printf("[Audit] publish failed: kind=%s, account=%s, err=%v",
			entry.Kind, entry.AccountID, err)
	}
}

// Close 关闭连接
func (r *NATSRecorder) Close() {
	r.conn.Close()
}

func subjectFor(kind string) string {
	return SubjectPrefix + "." + strings.ToLower(kind)
}
