package domain

import (
	"context"
	"time"
)

// Outcome é o resultado de uma decisão do ponto de vista de estatística.
type Outcome string

const (
	OutcomeAllowed     Outcome = "allowed"
	OutcomeDenied      Outcome = "denied"
	OutcomeDegraded    Outcome = "degraded"    // admitido sem contagem (fail-open)
	OutcomeUnavailable Outcome = "unavailable" // rejeitado por falha de estado (fail-closed)
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Scope são strings genéricas.
// Scope é o padrão da regra e não o path cru, para manter a cardinalidade baixa
// (salvar Key/Path sem controle pode explodir o número de chaves no Redis).
type StatsEvent struct {
	Key     Key
	Outcome Outcome

	Method string
	Scope  string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Implementações podem armazenar em Redis, memória, etc.
// O chamador trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
