package models

import "time"

// Vendor is a supplier scoped to an organization. Vendors are created
// implicitly the first time an invoice names them.
type Vendor struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RawDoc records an uploaded source file. SHA256 is the content hash used
// for per-org upload de-duplication.
type RawDoc struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	StorageKey string    `json:"storage_key"`
	Filename   string    `json:"filename"`
	Mime       string    `json:"mime"`
	Bytes      int64     `json:"bytes"`
	SHA256     string    `json:"sha256"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
