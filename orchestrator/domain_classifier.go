// Copyright 2025 SLM Legal ES Research
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import "strings"

// KeywordClassifier assigns a coarse legal-domain hint from prompt
// keywords. It is intentionally shallow: the hint only nudges agent
// framing and is never required for routing correctness.
type KeywordClassifier struct {
	domains map[string][]string
}

// NewKeywordClassifier builds the default Spanish legal-domain keyword
// table.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		domains: map[string][]string{
			"contract":   {"contrato", "cláusula", "clausula", "arrendamiento", "compraventa", "incumplimiento", "obligación", "obligacion"},
			"litigation": {"demanda", "sentencia", "recurso", "apelación", "apelacion", "juicio", "procedimiento", "tribunal"},
			"corporate":  {"sociedad", "accionista", "estatutos", "fusión", "fusion", "consejo de administración", "junta general"},
			"tax":        {"impuesto", "iva", "irpf", "tributaria", "hacienda", "deducción", "deduccion", "liquidación"},
			"labor":      {"despido", "trabajador", "convenio colectivo", "nómina", "nomina", "indemnización", "estatuto de los trabajadores"},
		},
	}
}

// Classify returns the domain with the most keyword hits, or "" when
// nothing matches.
func (k *KeywordClassifier) Classify(prompt string) string {
	lower := strings.ToLower(prompt)

	best := ""
	bestHits := 0
	for domain, keywords := range k.domains {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && domain < best) {
			best = domain
			bestHits = hits
		}
	}
	if bestHits == 0 {
		return ""
	}
	return best
}
