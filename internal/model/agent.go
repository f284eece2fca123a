package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// AgentRole separates routable agents from account administrators.
type AgentRole string

const (
	RoleAdmin AgentRole = "admin"
	RoleAgent AgentRole = "agent"
)

// Agent represents a human operator of an account who can be assigned conversations.
type Agent struct {
	// ID is the internal database primary key and the rotation order.
	ID int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	// AccountID identifies the account that owns the agent; rosters only include agents of the tenant's account.
	AccountID int64  `json:"account_id" gorm:"column:account_id;not null;index"`
	Name      string `json:"name" gorm:"column:name"`
	Email     string `json:"email,omitempty" gorm:"column:email"`
	// Role excludes admins from rotation.
	Role      AgentRole `json:"role" gorm:"column:role;type:varchar(16);not null;default:agent"`
	CreatedAt time.Time `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Agent) TableName(namer schema.Namer) string {
	return namer.TableName("agents")
}

// IsRoutable reports whether the agent may take part in rotation.
func (a Agent) IsRoutable() bool {
	return a.Role != RoleAdmin
}
