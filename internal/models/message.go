package models

import (
	"time"
)

// MessageRole identifies who authored a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatSession is a conversation owned by a single user
type ChatSession struct {
	ID      string `json:"id" gorm:"primaryKey;size:36"`
	OwnerID uint   `json:"ownerId" gorm:"index;not null"`
	Title   string `json:"title"`
	// Capability is the session's AI capability tag, e.g. "text-to-text"
	Capability     string    `json:"aiType" gorm:"size:32"`
	ModelHint      string    `json:"aiModel,omitempty" gorm:"size:128"`
	Favorite       bool      `json:"isFavorite"`
	Protected      bool      `json:"isProtected"`
	MessageCount   int       `json:"messageCount"`
	LastActivityAt time.Time `json:"lastActivity" gorm:"index"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName keeps the historical table name
func (ChatSession) TableName() string {
	return "chats"
}

// Message is immutable once stored, apart from attachments binding to it
type Message struct {
	ID          string       `json:"id" gorm:"primaryKey;size:36"`
	SessionID   string       `json:"chatId" gorm:"index;size:36;not null"`
	Role        MessageRole  `json:"role" gorm:"size:16"`
	Content     string       `json:"content" gorm:"type:text"`
	CreatedAt   time.Time    `json:"createdAt" gorm:"index"`
	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:MessageID"`
}
