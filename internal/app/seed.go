package app

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/acs-server/internal/storage/models"
)

//go:embed seed_rules.yaml
var seedRulesYAML []byte

type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	DeviceKind  models.DeviceKind `yaml:"device_kind"`
	Field       string            `yaml:"field"`
	Operator    string            `yaml:"operator"`
	Value       string            `yaml:"value"`
	Actions     []seedAction      `yaml:"actions"`
}

type seedAction struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// Seed 首次启动播种默认规则。规则表非空时跳过，避免重启重复播种。
// 注意：多实例并发冷启动存在竞态窗口（count 与 create 非原子），
// 部署上假定单实例完成首次启动。
func (e *AutomationEngine) Seed(ctx context.Context) error {
	count, err := e.repo.CountRules(ctx)
	if err != nil {
		return fmt.Errorf("count rules: %w", err)
	}
	if count > 0 {
		e.logger.Debug("automation: rules present, seeding skipped", zap.Int64("count", count))
		return nil
	}

	rules, err := parseSeedRules(seedRulesYAML)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		rule := rule
		if err := e.repo.CreateRule(ctx, &rule); err != nil {
			return fmt.Errorf("create seed rule %q: %w", rule.Name, err)
		}
		e.logger.Info("automation: seed rule created", zap.String("rule", rule.Name))
	}
	return nil
}

// parseSeedRules 解析内嵌种子文件
func parseSeedRules(data []byte) ([]models.AutomationRule, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed rules: %w", err)
	}

	rules := make([]models.AutomationRule, 0, len(file.Rules))
	for _, s := range file.Rules {
		actions := make(models.RuleActions, 0, len(s.Actions))
		for _, a := range s.Actions {
			actions = append(actions, models.RuleAction{Type: a.Type, Params: a.Params})
		}
		rules = append(rules, models.AutomationRule{
			Name:        s.Name,
			Description: s.Description,
			DeviceKind:  s.DeviceKind,
			Field:       s.Field,
			Operator:    s.Operator,
			Value:       s.Value,
			Actions:     actions,
			IsActive:    true,
		})
	}
	return rules, nil
}
