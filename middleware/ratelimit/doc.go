// Package ratelimit fornece os adapters HTTP (net/http) do rate limit por janela
// deslizante e do limite de concorrência.
//
// Camadas:
//
//   - domain: regras, decisões e contratos, sem net/http
//   - application: Policy (quais regras valem para a rota) e Service.Decide
//   - infra: janela deslizante em memória, token bucket, fixed window, Redis, estatísticas
//   - ratelimit (este pacote): extração da chave, headers X-RateLimit-*, corpo 429
//
// Fluxo no gateway:
//
//  1. Identifica o cliente (header, X-Forwarded-For, X-Real-IP ou RemoteAddr) e
//     o usuário autenticado, se houver
//  2. Service.Decide avalia as regras da rota
//  3. Bloqueado: 429 com Retry-After (ou 503 com failure_mode closed)
//  4. Permitido: segue para o próximo handler (reverse proxy)
package ratelimit
