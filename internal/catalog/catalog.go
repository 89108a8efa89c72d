// Package catalog holds the named abilities, hooks and mappers a manifest can
// reference.
package catalog

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/dynamicapi/internal/adapters/auth"
	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
	"github.com/atvirokodosprendimai/dynamicapi/internal/manifest"
)

const (
	AuditEntity = "Audit"

	HashPassword = "hash-password"
	HidePassword = "hide-password"
	KeepOwner    = "keep-owner"
	SetOwner     = "set-owner"
	AuditTrail   = "audit-trail"
)

// DefaultAudit is used when the manifest does not declare an Audit entity.
var DefaultAudit = domain.EntityDescriptor{
	Name:       AuditEntity,
	Collection: "audit_logs",
	Fields: []domain.Field{
		{Name: "documentId", Kind: domain.KindString},
		{Name: "actorId", Kind: domain.KindString},
		{Name: "actorEmail", Kind: domain.KindString},
	},
}

// New builds the catalog for m. Audit records go to m's Audit entity when it
// declares one.
func New(m *manifest.Manifest, log logrus.FieldLogger) manifest.Catalog {
	if log == nil {
		log = logrus.StandardLogger()
	}
	audit := DefaultAudit
	if m != nil {
		if d, ok := m.Descriptor(AuditEntity); ok {
			audit = d
		}
	}
	return manifest.Catalog{
		Abilities: auth.Abilities(),
		BeforeSave: map[string]domain.BeforeSaveFunc{
			KeepOwner: keepOwner,
		},
		BeforeCreate: map[string]domain.BeforeCreateFunc{
			SetOwner: setOwner,
		},
		AfterSave: map[string]domain.AfterSaveFunc{
			AuditTrail: auditTrail(audit, log),
		},
		Mappers: map[string]domain.Shape{
			HashPassword: {ToEntity: hashPassword, ToEntities: hashPasswords},
			HidePassword: {FromEntity: hidePassword, FromEntities: hidePasswords},
		},
	}
}

// keepOwner pins ownerId to the stored value so ownership cannot move, also
// across a full replace.
func keepOwner(_ context.Context, current domain.Document, change domain.Document, _ domain.CallbackMethods) (domain.Document, error) {
	out := change.Without(auth.FieldOwner)
	if out == nil {
		out = domain.Document{}
	}
	if owner, ok := current[auth.FieldOwner]; ok && owner != nil {
		out[auth.FieldOwner] = owner
	}
	return out, nil
}

// setOwner stamps the caller as owner of a new document.
func setOwner(ctx context.Context, doc domain.Document, _ domain.CallbackMethods) (domain.Document, error) {
	p := domain.PrincipalFromContext(ctx)
	if p == nil {
		return nil, domain.ForbiddenResource()
	}
	out := doc.Clone()
	if out == nil {
		out = domain.Document{}
	}
	out[auth.FieldOwner] = p.ID
	return out, nil
}

func auditTrail(audit domain.EntityDescriptor, log logrus.FieldLogger) domain.AfterSaveFunc {
	return func(ctx context.Context, saved domain.Document, methods domain.CallbackMethods) error {
		rec := domain.Document{"documentId": saved.ID()}
		if p := domain.PrincipalFromContext(ctx); p != nil {
			rec["actorId"] = p.ID
			rec["actorEmail"] = p.Email
		}
		if _, err := methods.CreateOneDocument(ctx, audit, rec); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		log.WithFields(logrus.Fields{"document": saved.ID(), "audit": audit.CollectionName()}).Debug("audit record written")
		return nil
	}
}

func hashPassword(doc domain.Document) (domain.Document, error) {
	pw, ok := doc[auth.FieldPassword].(string)
	if !ok || pw == "" {
		return doc, nil
	}
	hash, err := auth.HashPassword(pw)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	out := doc.Clone()
	out[auth.FieldPassword] = hash
	return out, nil
}

func hashPasswords(docs []domain.Document) ([]domain.Document, error) {
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		h, err := hashPassword(d)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func hidePassword(doc domain.Document) (any, error) {
	return doc.Without(auth.FieldPassword), nil
}

func hidePasswords(docs []domain.Document) (any, error) {
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Without(auth.FieldPassword))
	}
	return out, nil
}
