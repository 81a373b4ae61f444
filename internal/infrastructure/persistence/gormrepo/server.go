package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/domain/server"
	"github.com/veevpn/panel/internal/infrastructure/credential"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	sharederrors "github.com/veevpn/panel/internal/shared/errors"
)

type ServerRepository struct {
	db *gorm.DB
}

func NewServerRepository(db *gorm.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

func toServerModel(s *server.Server) *models.ServerModel {
	return &models.ServerModel{
		ID: s.ID(), DisplayName: s.DisplayName(), Country: s.Country(),
		Protocol: string(s.Protocol()), APIURL: s.APIURL(), APICredential: s.APICredential(),
		Domain: s.Domain(), Active: s.Active(), AccessLevel: s.AccessLevel(),
	}
}

func toServerDomain(m *models.ServerModel) (*server.Server, error) {
	return server.Reconstruct(m.ID, m.DisplayName, m.Country, server.Protocol(m.Protocol),
		m.APIURL, m.APICredential, m.Domain, m.Active, m.AccessLevel)
}

func (r *ServerRepository) Create(ctx context.Context, s *server.Server) (*server.Server, error) {
	m := toServerModel(s)
	hash, err := credential.Hash(s.APICredential())
	if err != nil {
		return nil, sharederrors.NewStoreIntegrityError("failed to hash server credential", err.Error())
	}
	m.CredentialHash = hash
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, sharederrors.NewStoreIntegrityError("failed to create server", err.Error())
	}
	return toServerDomain(m)
}

func (r *ServerRepository) FindByID(ctx context.Context, id uint) (*server.Server, error) {
	var m models.ServerModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sharederrors.NewNotFoundError("server not found")
		}
		return nil, err
	}
	return toServerDomain(&m)
}

// ListActiveV2Ray returns active V2Ray servers ordered by id, the
// enumeration the subscription engine fans create/extend out over.
func (r *ServerRepository) ListActiveV2Ray(ctx context.Context) ([]*server.Server, error) {
	var rows []models.ServerModel
	if err := r.db.WithContext(ctx).
		Where("protocol = ? AND active = ?", string(server.ProtocolV2Ray), true).
		Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toServerList(rows)
}

// ListActive returns every active server regardless of protocol, used by
// the reconciler and traffic monitor to fan out across the whole fleet.
func (r *ServerRepository) ListActive(ctx context.Context) ([]*server.Server, error) {
	var rows []models.ServerModel
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toServerList(rows)
}

// Update persists active/display-name/domain changes — everything a
// server row can carry after creation (rotation, retirement, rebranding).
func (r *ServerRepository) Update(ctx context.Context, s *server.Server) error {
	m := toServerModel(s)
	return r.db.WithContext(ctx).Model(&models.ServerModel{}).Where("id = ?", s.ID()).
		Select("display_name", "country", "domain", "active", "access_level").Updates(m).Error
}

func toServerList(rows []models.ServerModel) ([]*server.Server, error) {
	out := make([]*server.Server, 0, len(rows))
	for i := range rows {
		s, err := toServerDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
