// Copyright 2025 The pintrap Authors.
//
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

package metric

import (
	"fmt"
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// prometheusPrefix is prepended to every exported metric name.
const prometheusPrefix = "pintrap"

// prometheusName converts a metric name like "/kernel/syscalls" into a valid
// Prometheus name like "pintrap_kernel_syscalls".
func prometheusName(name string) string {
	var b strings.Builder
	b.WriteString(prometheusPrefix)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// toFamily converts a snapshot into a Prometheus counter family.
func (s Snapshot) toFamily() *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(prometheusName(s.Name)),
		Help: proto.String(s.Description),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, sample := range s.Samples {
		m := &dto.Metric{
			Counter: &dto.Counter{Value: proto.Float64(float64(sample.Value))},
		}
		names := make([]string, 0, len(sample.Fields))
		for name := range sample.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m.Label = append(m.Label, &dto.LabelPair{
				Name:  proto.String(name),
				Value: proto.String(sample.Fields[name]),
			})
		}
		mf.Metric = append(mf.Metric, m)
	}
	return mf
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	for _, s := range Snapshots() {
		if len(s.Samples) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, s.toFamily()); err != nil {
			return fmt.Errorf("writing metric %q: %w", s.Name, err)
		}
	}
	return nil
}
