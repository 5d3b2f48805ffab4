// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Rule, Decision e o protocolo Reserve/Commit/Cancel permitem avaliar várias
// regras para a mesma requisição de forma atômica por chave.
package domain
