// Package application contém os casos de uso do rate limit e do limite de
// concorrência.
//
// Depende apenas de domain e não conhece net/http. Policy escolhe as regras que
// valem para método + path; Service.Decide reserva cada uma, e só registra a
// requisição se todas admitirem.
package application
