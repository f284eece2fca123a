package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Tenant is one connected channel endpoint (a WhatsApp number or a Facebook/Instagram page)
// owned by an account. Conversations, history and messages are scoped by tenant.
type Tenant struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	AccountID  int64     `json:"account_id" gorm:"column:account_id;not null;index"`
	Channel    Channel   `json:"channel" gorm:"column:channel;type:varchar(32);not null;uniqueIndex:idx_tenants_channel_endpoint"`
	EndpointID string    `json:"endpoint_id" gorm:"column:endpoint_id;not null;uniqueIndex:idx_tenants_channel_endpoint"`
	Suspended  bool      `json:"suspended" gorm:"column:suspended;not null;default:false"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Tenant) TableName(namer schema.Namer) string {
	return namer.TableName("tenants")
}

// Department groups agents of a tenant for routing.
type Department struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID  int64     `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	Name      string    `json:"name" gorm:"column:name;not null"`
	Active    bool      `json:"active" gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (Department) TableName(namer schema.Namer) string {
	return namer.TableName("departments")
}

// DepartmentAgent links an agent to a department.
type DepartmentAgent struct {
	DepartmentID int64 `json:"department_id" gorm:"column:department_id;primaryKey"`
	AgentID      int64 `json:"agent_id" gorm:"column:agent_id;primaryKey;index"`
}

// TableName specifies the table name for GORM.
func (DepartmentAgent) TableName(namer schema.Namer) string {
	return namer.TableName("department_agents")
}
