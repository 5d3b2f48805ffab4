// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
//   - SlidingWindow: janela deslizante exata em memória (arena de ring buffers)
//   - TokenBucket: token bucket por chave usando golang.org/x/time/rate
//   - FixedWindow: janela fixa usando github.com/ulule/limiter
//   - RedisWindow: janela deslizante compartilhada via sorted set no Redis
//   - MemoryStatsStore / RedisStatsStore: estatísticas das decisões
//   - ChanPool: semáforo simples para limite de concorrência
package infra
