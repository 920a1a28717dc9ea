package models

import "time"

// MacEntry is one observation of a MAC address behind a switch port.
// Rows are append-only; the retention job is the only thing that deletes them.
type MacEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Device    string    `gorm:"index" json:"device"`
	VLAN      string    `gorm:"column:vlan" json:"vlan"`
	MAC       string    `gorm:"column:mac;index" json:"mac"`
	Port      string    `json:"port"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

func (MacEntry) TableName() string { return "mac_table" }

// LogEntry is an operator-facing audit record of a collection or cleanup.
type LogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

func (LogEntry) TableName() string { return "logs" }
