package model

import (
	"encoding/json"
	"testing"

	"github.com/bigkaa/memberportal/internal/domain/rbac"
)

func TestPrincipal_UnmarshalJSON(t *testing.T) {
	data := []byte(`{
		"id": "u-42",
		"name": "Ada Lovelace",
		"role": "Data Science Division President",
		"division": "Data Science",
		"email": "ada@example.org",
		"year": 3
	}`)

	var p Principal
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if p.ID != "u-42" || p.Name != "Ada Lovelace" {
		t.Errorf("ID/Name = %q/%q", p.ID, p.Name)
	}
	if p.Role != rbac.RoleDataScienceOfficer {
		t.Errorf("Role = %q", p.Role)
	}
	if p.Division == nil || *p.Division != rbac.DivisionDataScience {
		t.Errorf("Division = %v", p.Division)
	}
	if p.Profile["email"] != "ada@example.org" {
		t.Errorf("Profile[email] = %v", p.Profile["email"])
	}
	if _, ok := p.Profile["id"]; ok {
		t.Error("известные поля не должны попадать в Profile")
	}
}

func TestPrincipal_UnmarshalUnknownRole(t *testing.T) {
	var p Principal
	if err := json.Unmarshal([]byte(`{"id":"u-1","role":"Treasurer"}`), &p); err == nil {
		t.Fatal("ожидалась ошибка для неизвестной роли")
	}
}

func TestPrincipal_MarshalFlat(t *testing.T) {
	d := rbac.DivisionCybersecurity
	p := Principal{
		ID:       "u-7",
		Name:     "Grace",
		Role:     rbac.RoleMember,
		Division: &d,
		Profile:  map[string]any{"phone": "123"},
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back Principal
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.ID != p.ID || back.Role != p.Role || *back.Division != d || back.Profile["phone"] != "123" {
		t.Errorf("после сериализации профиль изменился: %+v", back)
	}
}

func TestPrincipal_CloneIndependent(t *testing.T) {
	d := rbac.DivisionGameDevelopment
	p := &Principal{ID: "u-1", Division: &d, Profile: map[string]any{"a": 1}}
	c := p.Clone()
	c.Profile["a"] = 2
	*c.Division = rbac.DivisionDataScience

	if p.Profile["a"] != 1 || *p.Division != rbac.DivisionGameDevelopment {
		t.Error("Clone должен быть независим от оригинала")
	}
	if (*Principal)(nil).Clone() != nil {
		t.Error("Clone(nil) должен вернуть nil")
	}
}

func TestTier(t *testing.T) {
	if TierFor(true) != TierDurable || TierFor(false) != TierEphemeral {
		t.Error("TierFor")
	}
	if TierDurable.Other() != TierEphemeral || TierEphemeral.Other() != TierDurable {
		t.Error("Other")
	}
}
