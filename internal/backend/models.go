package backend

import (
	"encoding/json"
	"strconv"
	"strings"
)

type Direction int

const (
	CheckOut Direction = iota + 1
	CheckIn
)

func (d Direction) String() string {
	switch d {
	case CheckOut:
		return "Check-out"
	case CheckIn:
		return "Check-in"
	}
	return "Unknown"
}

type Borrower struct {
	Name      string `json:"nama"`
	StudentID string `json:"nim"`
}

type Item struct {
	Name   string `json:"nama_alat"`
	Status string `json:"status"`
}

// Transaction is the lookup result for a scanned code.
type Transaction struct {
	ID       string
	Code     string
	Status   string
	Borrower Borrower
	Items    []Item
}

type transactionDTO struct {
	ID       flexID   `json:"id"`
	Status   string   `json:"status"`
	Borrower Borrower `json:"mahasiswa"`
	Items    []Item   `json:"peminjaman_detail"`
}

// ItemNames lists the item names for display.
func (t *Transaction) ItemNames() []string {
	names := make([]string, 0, len(t.Items))
	for _, it := range t.Items {
		names = append(names, it.Name)
	}
	return names
}

// EffectiveStatus is the transaction status, falling back to the first item's status.
func (t *Transaction) EffectiveStatus() string {
	if s := strings.TrimSpace(t.Status); s != "" {
		return s
	}
	for _, it := range t.Items {
		if s := strings.TrimSpace(it.Status); s != "" {
			return s
		}
	}
	return ""
}

type Confirmation struct {
	TransactionID string
	Direction     Direction
	Message       string
}

type confirmRequest struct {
	IsQrVerified   bool   `json:"isQrVerified"`
	IsFaceVerified bool   `json:"isFaceVerified"`
	VerifiedBy     string `json:"verifiedBy"`
}

type loginRequest struct {
	Username      string `json:"Username"`
	Password      string `json:"Password"`
	JenisAplikasi string `json:"JenisAplikasi"`
}

type loginResponse struct {
	Token        string `json:"token"`
	Nama         string `json:"nama"`
	ListAplikasi []struct {
		AppID  string `json:"appId"`
		RoleID string `json:"roleId"`
	} `json:"listAplikasi"`
}

type permissionRequest struct {
	Username string `json:"username"`
	AppID    string `json:"appId"`
	RoleID   string `json:"roleId"`
}

type permissionResponse struct {
	Token          string   `json:"token"`
	ListPermission []string `json:"listPermission"`
	ExpiresAt      string   `json:"expiresAt"`
}

// envelope is the optional {"data": ..., "message": ...} wrapper the backend uses.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// flexID accepts ids sent as either JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*f = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexID(n.String())
	return nil
}
