package nodeservice

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/lock"
	"github.com/starford/infrawiki/internal/models"
)

// PutAttachment stores r as attachment name of the node at path, replacing
// an attachment of the same name. Attachments do not change UpdatedAt.
func (s *Service) PutAttachment(ctx context.Context, path, name string, r io.Reader) (_ models.Attachment, err error) {
	defer observe("put_attachment", time.Now(), &err)

	unlock, err := s.locks.Acquire(ctx, lock.W(path))
	if err != nil {
		return models.Attachment{}, err
	}
	defer unlock()

	rec, err := s.store.ReadRecord(path)
	if err != nil {
		return models.Attachment{}, err
	}
	current, err := s.store.Attachments(path, rec.Meta.Attachments)
	if err != nil {
		return models.Attachment{}, err
	}
	replacing := false
	for _, a := range current {
		if a.Name == name {
			replacing = true
			break
		}
	}
	if limit := s.limits.MaxAttachments; limit > 0 && !replacing && len(current) >= limit {
		return models.Attachment{}, apperr.New(apperr.KindTooManyAttachments, path,
			"node already has %d attachments", len(current))
	}

	att, err := s.store.PutAttachment(path, name, r, s.limits.MaxAttachmentBytes)
	if err != nil {
		return models.Attachment{}, err
	}
	rec.Meta.Attachments = upsertAttachment(current, att)
	if err := s.store.WriteRecord(path, rec); err != nil {
		s.idx.MarkStale("attachment update failed", err)
		return models.Attachment{}, err
	}
	s.idx.Index(document(path, rec))
	s.logger.Info("nodeservice: attachment stored",
		slog.String("path", path), slog.String("name", name), slog.Int64("size", att.Size))
	s.emit(EventUpdated, path, "")
	return att, nil
}

// GetAttachment opens attachment name of the node at path. The caller must
// close the reader.
func (s *Service) GetAttachment(ctx context.Context, path, name string) (_ io.ReadCloser, _ models.Attachment, err error) {
	defer observe("get_attachment", time.Now(), &err)

	unlock, err := s.locks.Acquire(ctx, lock.R(path))
	if err != nil {
		return nil, models.Attachment{}, err
	}
	defer unlock()

	m, err := s.store.ReadMeta(path)
	if err != nil {
		return nil, models.Attachment{}, err
	}
	atts, err := s.store.Attachments(path, m.Attachments)
	if err != nil {
		return nil, models.Attachment{}, err
	}
	var meta models.Attachment
	found := false
	for _, a := range atts {
		if a.Name == name {
			meta, found = a, true
			break
		}
	}
	if !found {
		return nil, models.Attachment{}, apperr.New(apperr.KindNotFound, path, "attachment %q not found", name)
	}
	rc, err := s.store.OpenAttachment(path, name)
	if err != nil {
		return nil, models.Attachment{}, err
	}
	return rc, meta, nil
}

// ListAttachments returns the attachments of the node at path by name.
func (s *Service) ListAttachments(ctx context.Context, path string) (_ []models.Attachment, err error) {
	defer observe("list_attachments", time.Now(), &err)

	unlock, err := s.locks.Acquire(ctx, lock.R(path))
	if err != nil {
		return nil, err
	}
	defer unlock()

	m, err := s.store.ReadMeta(path)
	if err != nil {
		return nil, err
	}
	atts, err := s.store.Attachments(path, m.Attachments)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(atts), nil
}

// DeleteAttachment removes attachment name from the node at path.
func (s *Service) DeleteAttachment(ctx context.Context, path, name string) (err error) {
	defer observe("delete_attachment", time.Now(), &err)

	unlock, err := s.locks.Acquire(ctx, lock.W(path))
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := s.store.ReadRecord(path)
	if err != nil {
		return err
	}
	if err := s.store.RemoveAttachment(path, name); err != nil {
		return err
	}
	kept := rec.Meta.Attachments[:0]
	for _, a := range rec.Meta.Attachments {
		if a.Name != name {
			kept = append(kept, a)
		}
	}
	rec.Meta.Attachments = kept
	if err := s.store.WriteRecord(path, rec); err != nil {
		s.idx.MarkStale("attachment update failed", err)
		return err
	}
	s.idx.Index(document(path, rec))
	s.logger.Info("nodeservice: attachment removed", slog.String("path", path), slog.String("name", name))
	s.emit(EventUpdated, path, "")
	return nil
}

func upsertAttachment(list []models.Attachment, a models.Attachment) []models.Attachment {
	out := make([]models.Attachment, 0, len(list)+1)
	for _, x := range list {
		if x.Name != a.Name {
			out = append(out, x)
		}
	}
	out = append(out, a)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
