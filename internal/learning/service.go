// Package learning records human corrections and derives the rules
// that bias future scoring and categorization: vendor GL rules, vendor
// aliases, approval-threshold adjustments and learned scoring patterns.
// The service is the single writer of the rule set; corrections are
// append-then-derive, so a failed derivation never loses the
// correction.
package learning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ap-reconciliation-engine/internal/models"
	"ap-reconciliation-engine/internal/patterns"
	"ap-reconciliation-engine/internal/scorer"
	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

const (
	// initialGLConfidence is the confidence a single gl_code
	// correction yields; reinforcement adds reinforcementStep per
	// repeat up to maxRuleConfidence.
	initialGLConfidence = 0.7
	reinforcementStep   = 0.1
	maxRuleConfidence   = 0.99

	aliasConfidence = 0.9

	// approvalShift is applied per approval correction, bounded to
	// +/- approvalBound.
	approvalShift = 0.1
	approvalBound = 0.3
)

// GLRule maps a vendor to its learned GL code
type GLRule struct {
	OrganizationID  string    `json:"organization_id" db:"organization_id"`
	Vendor          string    `json:"vendor" db:"vendor"`
	GLCode          string    `json:"gl_code" db:"gl_code"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	CorrectionCount int       `json:"correction_count" db:"correction_count"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// AliasRule maps an observed vendor spelling to its canonical name
type AliasRule struct {
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Alias          string    `json:"alias" db:"alias"`
	Canonical      string    `json:"canonical" db:"canonical"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// ApprovalBias is a vendor's accumulated auto-approve threshold
// adjustment.
type ApprovalBias struct {
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Vendor         string    `json:"vendor" db:"vendor"`
	Adjustment     float64   `json:"adjustment" db:"adjustment"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Suggestion is the answer to a suggest query
type Suggestion struct {
	Type        models.CorrectionType `json:"type"`
	Value       string                `json:"value"`
	Confidence  float64               `json:"confidence"`
	LearnedFrom int                   `json:"learned_from"`
	Message     string                `json:"message"`
}

// RecordResult summarizes the effect of one recorded correction
type RecordResult struct {
	CorrectionID       string `json:"correction_id"`
	RulesCreated       int    `json:"rules_created"`
	RulesUpdated       int    `json:"rules_updated"`
	PreferencesUpdated int    `json:"preferences_updated"`
	Message            string `json:"message"`
}

// Store persists the immutable correction log and the derived rule
// tables.
type Store interface {
	AppendCorrection(ctx context.Context, correction *models.Correction) error
	ListCorrections(ctx context.Context, organizationID string) ([]*models.Correction, error)

	GetGLRule(ctx context.Context, organizationID, vendor string) (*GLRule, error)
	UpsertGLRule(ctx context.Context, rule *GLRule) error

	GetAliasRule(ctx context.Context, organizationID, alias string) (*AliasRule, error)
	UpsertAliasRule(ctx context.Context, rule *AliasRule) error

	GetApprovalBias(ctx context.Context, organizationID, vendor string) (*ApprovalBias, error)
	UpsertApprovalBias(ctx context.Context, bias *ApprovalBias) error
}

// Service derives rules from corrections and serves suggestions
type Service struct {
	store    Store
	patterns patterns.Store
	log      logger.Logger
	now      func() time.Time

	// Writes are serialized; the pattern store and rule tables have a
	// single writer by contract.
	mu sync.Mutex
}

// NewService creates a learning service. The pattern store may be nil
// when pattern sync is not wired.
func NewService(store Store, patternStore patterns.Store) *Service {
	return &Service{
		store:    store,
		patterns: patternStore,
		log:      logger.WithComponent("learning"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordCorrection appends the correction to the immutable log, then
// derives rules from it. A derivation failure leaves the correction
// recorded; derivation is retried on the next write.
func (s *Service) RecordCorrection(ctx context.Context, orgID string, corrType models.CorrectionType, original, corrected string, corrContext models.CorrectionContext, userID string) (*RecordResult, error) {
	correction := &models.Correction{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Type:           corrType,
		Original:       original,
		Corrected:      corrected,
		Context:        corrContext,
		UserID:         userID,
		CreatedAt:      s.now(),
	}

	if err := correction.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeValidationError, "correction", correction.ID, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.AppendCorrection(ctx, correction); err != nil {
		return nil, err
	}

	result := &RecordResult{CorrectionID: correction.ID}
	if err := s.derive(ctx, correction, result); err != nil {
		s.log.WithError(err).WithField("correction_id", correction.ID).
			Warn("Rule derivation failed, correction recorded, will retry on next write")
		result.Message = "correction recorded, rule derivation pending"
		return result, nil
	}

	if result.Message == "" {
		result.Message = "correction recorded"
	}
	return result, nil
}

func (s *Service) derive(ctx context.Context, correction *models.Correction, result *RecordResult) error {
	switch correction.Type {
	case models.CorrectionGLCode:
		return s.deriveGLRule(ctx, correction, result)
	case models.CorrectionVendorAlias:
		return s.deriveAliasRule(ctx, correction, result)
	case models.CorrectionApproval:
		return s.deriveApprovalBias(ctx, correction, result)
	case models.CorrectionClassification:
		return s.derivePattern(ctx, correction, result)
	default:
		// Amount corrections carry no derivable rule
		return nil
	}
}

func (s *Service) deriveGLRule(ctx context.Context, correction *models.Correction, result *RecordResult) error {
	vendor := strings.TrimSpace(correction.Context.Vendor)
	if vendor == "" {
		return fmt.Errorf("gl_code correction without vendor context")
	}

	rule, err := s.store.GetGLRule(ctx, correction.OrganizationID, vendor)
	if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return err
	}

	switch {
	case rule == nil:
		rule = &GLRule{
			OrganizationID:  correction.OrganizationID,
			Vendor:          vendor,
			GLCode:          correction.Corrected,
			Confidence:      initialGLConfidence,
			CorrectionCount: 1,
			UpdatedAt:       s.now(),
		}
		result.RulesCreated++
	case rule.GLCode != correction.Corrected:
		// A new GL code restarts the vendor's confidence from scratch,
		// but the rule itself already existed.
		rule.GLCode = correction.Corrected
		rule.Confidence = initialGLConfidence
		rule.CorrectionCount = 1
		rule.UpdatedAt = s.now()
		result.RulesUpdated++
	default:
		rule.CorrectionCount++
		rule.Confidence = initialGLConfidence + reinforcementStep*float64(rule.CorrectionCount-1)
		if rule.Confidence > maxRuleConfidence {
			rule.Confidence = maxRuleConfidence
		}
		rule.UpdatedAt = s.now()
		result.RulesUpdated++
	}

	if err := s.store.UpsertGLRule(ctx, rule); err != nil {
		return err
	}

	result.Message = fmt.Sprintf("vendor %q now maps to GL %s (confidence %.2f)",
		vendor, rule.GLCode, rule.Confidence)
	return nil
}

func (s *Service) deriveAliasRule(ctx context.Context, correction *models.Correction, result *RecordResult) error {
	alias := strings.TrimSpace(correction.Original)
	if alias == "" {
		return fmt.Errorf("vendor_alias correction without an original spelling")
	}

	existing, err := s.store.GetAliasRule(ctx, correction.OrganizationID, alias)
	if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return err
	}

	rule := &AliasRule{
		OrganizationID: correction.OrganizationID,
		Alias:          alias,
		Canonical:      correction.Corrected,
		Confidence:     aliasConfidence,
		UpdatedAt:      s.now(),
	}

	if err := s.store.UpsertAliasRule(ctx, rule); err != nil {
		return err
	}

	if existing == nil {
		result.RulesCreated++
	} else {
		result.RulesUpdated++
	}
	result.Message = fmt.Sprintf("alias %q now resolves to %q", alias, rule.Canonical)
	return nil
}

func (s *Service) deriveApprovalBias(ctx context.Context, correction *models.Correction, result *RecordResult) error {
	vendor := strings.TrimSpace(correction.Context.Vendor)
	if vendor == "" {
		return fmt.Errorf("approval correction without vendor context")
	}

	bias, err := s.store.GetApprovalBias(ctx, correction.OrganizationID, vendor)
	if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return err
	}
	if bias == nil {
		bias = &ApprovalBias{OrganizationID: correction.OrganizationID, Vendor: vendor}
	}

	// An approval raises the vendor's adjustment (approve more
	// readily), a rejection lowers it.
	shift := approvalShift
	if strings.EqualFold(correction.Corrected, "rejected") {
		shift = -approvalShift
	}

	bias.Adjustment += shift
	if bias.Adjustment > approvalBound {
		bias.Adjustment = approvalBound
	}
	if bias.Adjustment < -approvalBound {
		bias.Adjustment = -approvalBound
	}
	bias.UpdatedAt = s.now()

	if err := s.store.UpsertApprovalBias(ctx, bias); err != nil {
		return err
	}

	result.PreferencesUpdated++
	result.Message = fmt.Sprintf("vendor %q approval adjustment is now %+.1f", vendor, bias.Adjustment)
	return nil
}

// derivePattern turns an explicit match correction into a learned
// scoring pattern: the corrected value names the target description the
// original source description should have matched.
func (s *Service) derivePattern(ctx context.Context, correction *models.Correction, result *RecordResult) error {
	if s.patterns == nil {
		return nil
	}

	source := scorer.NormalizeDescription(correction.Original)
	target := scorer.NormalizeDescription(correction.Corrected)
	if source == "" || target == "" {
		return fmt.Errorf("classification correction normalized to empty patterns")
	}

	id := fmt.Sprintf("learned-%s-%s", correction.OrganizationID, patternKey(source, target))

	existing, err := s.patterns.Get(ctx, id)
	if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		return err
	}

	pattern := &models.Pattern{
		ID:             id,
		OrganizationID: correction.OrganizationID,
		SourcePattern:  source,
		TargetPattern:  target,
		Confidence:     0.6,
	}
	if existing != nil {
		pattern.Confidence = existing.Confidence + 0.1
		if pattern.Confidence > 0.95 {
			pattern.Confidence = 0.95
		}
		pattern.MatchCount = existing.MatchCount
		result.RulesUpdated++
	} else {
		result.RulesCreated++
	}

	if err := s.patterns.Upsert(ctx, pattern); err != nil {
		return err
	}

	result.Message = fmt.Sprintf("learned pattern %q -> %q (confidence %.2f)",
		source, target, pattern.Confidence)
	return nil
}

func patternKey(source, target string) string {
	join := source + "|" + target
	// FNV-1a keeps pattern IDs short and stable
	var hash uint64 = 14695981039346656037
	for i := 0; i < len(join); i++ {
		hash ^= uint64(join[i])
		hash *= 1099511628211
	}
	return fmt.Sprintf("%016x", hash)
}

// SuggestGLCode returns the learned GL rule for a vendor, or nil when
// none applies. Alias rules are consulted first so corrections keyed on
// a canonical vendor also cover its spellings.
func (s *Service) SuggestGLCode(ctx context.Context, organizationID, vendor string) (*Suggestion, error) {
	vendor = strings.TrimSpace(vendor)
	if vendor == "" {
		return nil, nil
	}

	if alias, err := s.store.GetAliasRule(ctx, organizationID, vendor); err == nil && alias != nil {
		vendor = alias.Canonical
	}

	rule, err := s.store.GetGLRule(ctx, organizationID, vendor)
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &Suggestion{
		Type:        models.CorrectionGLCode,
		Value:       rule.GLCode,
		Confidence:  rule.Confidence,
		LearnedFrom: rule.CorrectionCount,
		Message:     fmt.Sprintf("learned from %d previous correction(s)", rule.CorrectionCount),
	}, nil
}

// SuggestCanonicalVendor resolves an observed vendor spelling through
// the alias rules.
func (s *Service) SuggestCanonicalVendor(ctx context.Context, organizationID, vendor string) (*Suggestion, error) {
	rule, err := s.store.GetAliasRule(ctx, organizationID, strings.TrimSpace(vendor))
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &Suggestion{
		Type:        models.CorrectionVendorAlias,
		Value:       rule.Canonical,
		Confidence:  rule.Confidence,
		LearnedFrom: 1,
		Message:     "learned from 1 previous correction(s)",
	}, nil
}

// ApprovalAdjustment returns a vendor's accumulated auto-approve
// threshold shift, zero when none has been learned.
func (s *Service) ApprovalAdjustment(ctx context.Context, organizationID, vendor string) (float64, error) {
	bias, err := s.store.GetApprovalBias(ctx, organizationID, strings.TrimSpace(vendor))
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return bias.Adjustment, nil
}

// RecordPatternUsage bumps a learned pattern's usage counter after the
// scorer reported it fired in a confirmed match.
func (s *Service) RecordPatternUsage(ctx context.Context, patternID string) error {
	if s.patterns == nil || patternID == "" {
		return nil
	}
	return s.patterns.IncrementUsage(ctx, patternID)
}
