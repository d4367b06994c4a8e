// audit.go provides Gin middleware that records relay actions to the audit log.
// Handlers name the action they performed with SetAuditEvent; requests that set no
// event, such as reads, are not recorded.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
	"github.com/deabakjj/MYCREATA1-sub001/internal/config"
)

const (
	auditActionKey       = "audit_action"
	auditResourceTypeKey = "audit_resource_type"
	auditResourceIDKey   = "audit_resource_id"
	auditMetadataKey     = "audit_metadata"
)

// SetAuditEvent annotates the request with the relay action it performs. Calling it
// again replaces the earlier annotation, so a handler can fill in the resource id once
// it is known.
func SetAuditEvent(c *gin.Context, action, resourceType, resourceID string) {
	c.Set(auditActionKey, action)
	c.Set(auditResourceTypeKey, resourceType)
	c.Set(auditResourceIDKey, resourceID)
}

// AddAuditMetadata attaches a key/value to the request's audit record
func AddAuditMetadata(c *gin.Context, key string, value interface{}) {
	md, _ := c.Get(auditMetadataKey)
	m, ok := md.(map[string]interface{})
	if !ok {
		m = make(map[string]interface{})
		c.Set(auditMetadataKey, m)
	}
	m[key] = value
}

// AuditMiddleware records annotated requests once the handler has run. Failed requests
// are recorded only when cfg.LogFailedRequests is set. A nil recorder disables auditing.
func AuditMiddleware(recorder *audit.Recorder, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if recorder == nil {
			return
		}
		action := c.GetString(auditActionKey)
		if action == "" {
			return
		}

		status := c.Writer.Status()
		failed := status >= 400
		if failed && (cfg == nil || !cfg.LogFailedRequests) {
			return
		}

		metadata := make(map[string]interface{})
		if md, ok := c.Get(auditMetadataKey); ok {
			if m, ok := md.(map[string]interface{}); ok {
				for k, v := range m {
					metadata[k] = v
				}
			}
		}
		if failed {
			metadata["outcome"] = "failure"
		}

		entry := &audit.LogEntry{
			Action:       action,
			UserID:       UserID(c),
			ResourceType: c.GetString(auditResourceTypeKey),
			ResourceID:   c.GetString(auditResourceIDKey),
			OriginHost:   OriginHost(c),
			IPAddress:    c.ClientIP(),
			AuthMethod:   c.GetString(AuthMethodKey),
			RequestID:    c.GetString(RequestIDKey),
			StatusCode:   status,
		}
		if len(metadata) > 0 {
			entry.Metadata = metadata
		}

		recorder.RecordAsync(entry)
	}
}
