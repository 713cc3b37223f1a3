package models

// Contact is an entry in a user's address book. Name optionally overrides the
// contact's own display name for the owner only.
type Contact struct {
	BaseModel
	OwnerID   uint   `gorm:"not null;uniqueIndex:idx_contact_owner_user" json:"-"`
	ContactID uint   `gorm:"not null;uniqueIndex:idx_contact_owner_user" json:"userId"`
	Name      string `gorm:"type:varchar(100)" json:"name,omitempty"`

	User *UserBasicInfo `gorm:"-" json:"user,omitempty"`
}

// TableName 指定 Contact 模型的表名。
func (Contact) TableName() string {
	return "contacts"
}
