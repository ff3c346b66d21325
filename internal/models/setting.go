package models

// Setting is a backend-managed key/value row, e.g. the minimum agent
// version accepted during pairing.
type Setting struct {
	Key   string `gorm:"primaryKey;size:64" json:"key"`
	Value string `gorm:"not null" json:"value"`
}

const SettingMinAgentVersion = "min_agent_version"

func (Setting) TableName() string {
	return "settings"
}
