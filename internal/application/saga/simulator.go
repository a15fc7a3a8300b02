// Package saga - оркестрация перевода и симуляция сбоев.
package saga

import (
	"math/rand"
	"sync"
)

// FailureType - какой шаг саги симулятор заставляет упасть.
type FailureType string

// FailureCredit - единственный поддерживаемый тип: падение credit-шага
// после успешного debit, что запускает компенсацию.
const FailureCredit FailureType = "CREDIT_FAILURE"

// SimulatorConfig - снапшот настроек симулятора.
type SimulatorConfig struct {
	Enabled            bool        `json:"enabled"`
	FailureRate        float64     `json:"failureRate"` // 0.0 .. 1.0
	FailTransactionIDs []string    `json:"failTransactionIds"`
	FailureType        FailureType `json:"failureType"`
}

// Simulator - управляемая точка отказа для тестов и демонстраций.
// Конфигурация меняется на лету; чтение из горячего пути саги
// защищено RWMutex.
type Simulator struct {
	mu  sync.RWMutex
	cfg SimulatorConfig
}

// NewSimulator создаёт выключенный симулятор.
func NewSimulator() *Simulator {
	return &Simulator{
		cfg: SimulatorConfig{FailureType: FailureCredit},
	}
}

// Configure заменяет конфигурацию целиком.
func (s *Simulator) Configure(cfg SimulatorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.FailureType == "" {
		cfg.FailureType = FailureCredit
	}
	s.cfg = cfg
}

// Config возвращает копию текущей конфигурации.
func (s *Simulator) Config() SimulatorConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := s.cfg
	cfg.FailTransactionIDs = append([]string(nil), s.cfg.FailTransactionIDs...)
	return cfg
}

// Reset выключает симулятор.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = SimulatorConfig{FailureType: FailureCredit}
}

// ShouldFailCredit решает, должен ли credit-шаг данной транзакции
// упасть. Точечный список транзакций имеет приоритет над вероятностью.
func (s *Simulator) ShouldFailCredit(transactionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.cfg.Enabled || s.cfg.FailureType != FailureCredit {
		return false
	}
	for _, id := range s.cfg.FailTransactionIDs {
		if id == transactionID {
			return true
		}
	}
	if len(s.cfg.FailTransactionIDs) > 0 {
		// Явный список задан - вероятность не применяется.
		return false
	}
	return s.cfg.FailureRate > 0 && rand.Float64() < s.cfg.FailureRate
}
