package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/garagebook/internal/api/mot"
	"github.com/langchou/garagebook/internal/api/registry"
	"github.com/langchou/garagebook/internal/api/upstream"
	"github.com/langchou/garagebook/internal/cache"
	"github.com/langchou/garagebook/internal/models"
)

// RegistryLookup 车辆登记数据源
type RegistryLookup interface {
	Lookup(ctx context.Context, registration string, force bool) (*registry.Vehicle, error)
	Invalidate(ctx context.Context, registration string) error
	TestConnection(ctx context.Context) (upstream.ConnectionStatus, error)
	Source() models.DataSource
}

// HistoryLookup MOT 历史数据源
type HistoryLookup interface {
	Lookup(ctx context.Context, registration string, force bool) (*mot.History, error)
	Invalidate(ctx context.Context, registration string) error
	TestConnection(ctx context.Context) (upstream.ConnectionStatus, error)
	Source() models.DataSource
}

// VehicleOptions 聚合服务配置
type VehicleOptions struct {
	ProfileTTL    time.Duration
	LookupTimeout time.Duration
	Policy        Policy
	Now           func() time.Time
}

// VehicleService 合并登记与 MOT 数据，生成车辆档案
type VehicleService struct {
	registry RegistryLookup
	history  HistoryLookup
	store    cache.Store
	opts     VehicleOptions
	logger   *zap.Logger
}

// NewVehicleService 创建车辆档案服务
func NewVehicleService(reg RegistryLookup, hist HistoryLookup, store cache.Store, opts VehicleOptions, logger *zap.Logger) *VehicleService {
	if opts.ProfileTTL <= 0 {
		opts.ProfileTTL = time.Hour
	}
	if opts.Policy.RecentTests == 0 {
		opts.Policy = DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &VehicleService{
		registry: reg,
		history:  hist,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// Policy 当前策略
func (s *VehicleService) Policy() Policy {
	return s.opts.Policy
}

func profileKey(reg string) string {
	return "profile:" + reg
}

type registryResult struct {
	vehicle *registry.Vehicle
	err     error
}

type historyResult struct {
	history *mot.History
	err     error
}

// Lookup 并发查询两个数据源并合并
// 登记查询致命失败（不存在/非法）时取消 MOT 查询并返回 ErrVehicleNotFound
func (s *VehicleService) Lookup(ctx context.Context, registration string, force bool) (*models.VehicleProfile, error) {
	reg := models.NormalizeRegistration(registration)
	if !models.ValidRegistration(reg) {
		return nil, &models.NotFoundError{
			Registration: registration,
			Err:          upstream.InvalidInput(registry.APIName, registration, "malformed registration"),
		}
	}

	if !force {
		if p := s.cachedProfile(ctx, reg); p != nil {
			return p, nil
		}
	}

	if s.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.LookupTimeout)
		defer cancel()
	}
	histCtx, cancelHist := context.WithCancel(ctx)
	defer cancelHist()

	var (
		wg      sync.WaitGroup
		regRes  registryResult
		histRes historyResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		regRes.vehicle, regRes.err = s.registry.Lookup(ctx, reg, force)
		if isFatal(regRes.err) {
			cancelHist()
		}
	}()
	go func() {
		defer wg.Done()
		histRes.history, histRes.err = s.history.Lookup(histCtx, reg, force)
	}()
	wg.Wait()

	if isFatal(regRes.err) {
		s.logger.Info("Vehicle not found", zap.String("registration", reg), zap.Error(regRes.err))
		return nil, &models.NotFoundError{Registration: reg, Err: regRes.err}
	}

	if histRes.err == nil && regRes.err != nil && histRes.history.Make == "" && len(histRes.history.Tests) == 0 {
		// MOT 404 时返回空历史，单独不足以构成档案
		histRes.err = upstream.NotFound(mot.APIName, reg)
	}

	switch {
	case regRes.err != nil && histRes.err != nil:
		s.logger.Error("Vehicle lookup failed",
			zap.String("registration", reg),
			zap.NamedError("registry_error", regRes.err),
			zap.NamedError("inspection_error", histRes.err))
		return nil, &models.LookupError{Registration: reg, RegistryErr: regRes.err, InspectionErr: histRes.err}
	case regRes.err != nil:
		s.logger.Warn("Registry unavailable, using inspection history only",
			zap.String("registration", reg), zap.Error(regRes.err))
		regRes.vehicle = nil
	case histRes.err != nil:
		s.logger.Warn("Inspection history unavailable, using registry only",
			zap.String("registration", reg), zap.Error(histRes.err))
		histRes.history = nil
	}

	profile := s.build(reg, regRes.vehicle, histRes.history)

	// 降级档案不缓存，下次请求重新尝试缺失的数据源
	if regRes.err == nil && histRes.err == nil {
		s.storeProfile(ctx, profile)
	}
	return profile, nil
}

func isFatal(err error) bool {
	var ue *upstream.Error
	return errors.As(err, &ue) && ue.Fatal()
}

// build 确定性合并：登记数据优先，型号与检测记录来自 MOT
func (s *VehicleService) build(reg string, v *registry.Vehicle, h *mot.History) *models.VehicleProfile {
	now := s.opts.Now()
	p := &models.VehicleProfile{
		Registration: reg,
		FuelType:     models.FuelUnknown,
		MOTHistory:   []models.MOTTest{},
		DataSources:  []models.DataSource{},
		FetchedAt:    now,
	}

	if h != nil {
		p.Make = h.Make
		p.Model = h.Model
		p.Colour = h.Colour
		p.Year = h.Year
		if h.FuelType != "" {
			p.FuelType = h.FuelType
		}
		p.EngineCC = h.EngineCC
		p.MOTHistory = append(p.MOTHistory, h.Tests...)
	}
	if v != nil {
		if v.Make != "" {
			p.Make = v.Make
		}
		if v.Colour != "" {
			p.Colour = v.Colour
		}
		if v.Year != 0 {
			p.Year = v.Year
		}
		if v.FuelType != "" && v.FuelType != models.FuelUnknown {
			p.FuelType = v.FuelType
		}
		if v.EngineCC != nil {
			p.EngineCC = v.EngineCC
		}
		p.MOTStatus = v.MOTStatus
		p.MOTExpiry = v.MOTExpiry
		p.TaxStatus = v.TaxStatus
	}
	if p.FuelType == models.FuelElectric {
		p.EngineCC = nil
	}

	if v != nil {
		p.DataSources = appendSource(p.DataSources, s.registry.Source())
	}
	if h != nil {
		p.DataSources = appendSource(p.DataSources, s.history.Source())
	}

	policy := s.opts.Policy
	var latest *models.MOTTest
	if len(p.MOTHistory) > 0 {
		latest = &p.MOTHistory[0]
	}
	p.AgeCategory = policy.AgeCategory(p.Year, now)
	p.MaintenanceScore = policy.MaintenanceScore(p.MOTHistory)
	p.RiskAssessment = policy.Risk(p.MaintenanceScore, latest, p.AgeCategory)
	p.PricingCategory = policy.PricingCategory(p.FuelType, p.EngineCC)
	p.TyreSize = policy.TyreSize(p.Make, p.Model, p.Year)
	p.Recommendations = policy.Recommendations(p, now)
	return p
}

func appendSource(sources []models.DataSource, src models.DataSource) []models.DataSource {
	for _, s := range sources {
		if s == src {
			return sources
		}
	}
	return append(sources, src)
}

func (s *VehicleService) cachedProfile(ctx context.Context, reg string) *models.VehicleProfile {
	data, ok, err := s.store.Get(ctx, profileKey(reg))
	if err != nil {
		s.logger.Warn("Profile cache read failed", zap.String("registration", reg), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var p models.VehicleProfile
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("Profile cache entry corrupt", zap.String("registration", reg), zap.Error(err))
		return nil
	}
	return &p
}

func (s *VehicleService) storeProfile(ctx context.Context, p *models.VehicleProfile) {
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Warn("Failed to encode profile", zap.String("registration", p.Registration), zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, profileKey(p.Registration), data, s.opts.ProfileTTL); err != nil {
		s.logger.Warn("Profile cache write failed", zap.String("registration", p.Registration), zap.Error(err))
	}
}

// InvalidateVehicle 删除档案与两路原始数据缓存
func (s *VehicleService) InvalidateVehicle(ctx context.Context, registration string) error {
	reg := models.NormalizeRegistration(registration)
	if !models.ValidRegistration(reg) {
		return &models.InputError{Field: "registration", Value: registration, Reason: "malformed registration"}
	}
	err := errors.Join(
		s.store.Delete(ctx, profileKey(reg)),
		s.registry.Invalidate(ctx, reg),
		s.history.Invalidate(ctx, reg),
	)
	if err != nil {
		return err
	}
	s.logger.Info("Vehicle cache invalidated", zap.String("registration", reg))
	return nil
}

// TestConnections 并发检测两个上游 API
func (s *VehicleService) TestConnections(ctx context.Context) []upstream.ConnectionStatus {
	out := make([]upstream.ConnectionStatus, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out[0], _ = s.registry.TestConnection(ctx)
	}()
	go func() {
		defer wg.Done()
		out[1], _ = s.history.TestConnection(ctx)
	}()
	wg.Wait()
	return out
}
