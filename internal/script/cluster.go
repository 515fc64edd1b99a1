// Copyright (c) seqscale 2026. All rights reserved.
// SPDX-License-Identifier: MIT

package script

import (
	"fmt"
	"strings"

	"github.com/seqscale/chunkplan/internal/marker"
	"github.com/seqscale/chunkplan/internal/plan"
)

var _ Mode = ClusterArray{}

const jobName = "chunkplan_feature_agg"

// ClusterArray renders a scheduler job-array script: a directive block sized
// to the plan's chunk count with the configured resource limits, the full
// command table indexed by the scheduler's own task-index variable, and
// marker create/remove wrapped around the task's execution.
type ClusterArray struct {
	Kind   Kind
	Limits Limits
	Layout Layout
}

// Filename implements Mode.
func (m ClusterArray) Filename() string {
	return fmt.Sprintf("process_regions_job_array_%s.sh", m.Kind)
}

// Render implements Mode.
func (m ClusterArray) Render(p plan.Plan) (string, error) {
	if len(p.Descriptors) == 0 {
		return "", ErrEmptyPlan
	}

	limits := m.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}

	layout := orDefaultLayout(m.Layout)

	var directives string

	var indexVar string

	n := len(p.Descriptors)

	switch m.Kind {
	case Slurm:
		directives = slurmDirectives(n, limits, layout)
		indexVar = "SLURM_ARRAY_TASK_ID"
	case SGE:
		directives = sgeDirectives(n, limits, layout)
		indexVar = "SGE_TASK_ID"
	case LSF:
		directives = lsfDirectives(n, limits, layout)
		indexVar = "LSB_JOBINDEX"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheduler, m.Kind)
	}

	var b strings.Builder

	b.WriteString("#!/bin/bash\n")
	b.WriteString(directives)
	b.WriteString("\n# Command table, one entry per chunk.\n")
	b.WriteString("declare -a commands\n")

	for _, d := range p.Descriptors {
		fmt.Fprintf(&b, "commands[%d]=%s\n", d.Ordinal, singleQuote(commandWords(d)))
	}

	fmt.Fprintf(&b, `
TASK_ID="${%s}"
if [ -z "$TASK_ID" ]; then
	echo "task index variable %s is not set" >&2
	exit 2
fi

MARKER_DIR=%s
mkdir -p "$MARKER_DIR"
mkdir -p %s
marker="$MARKER_DIR/$TASK_ID%s"
trap 'rm -f "$marker" "$marker.tmp"' EXIT

bash -c "${commands[$TASK_ID]}" &
pid=$!
echo "$pid" > "$marker.tmp" && mv "$marker.tmp" "$marker"
wait "$pid"
status=$?
exit "$status"
`, indexVar, indexVar, singleQuote(layout.MarkerDir), singleQuote(layout.JobLogDir), marker.Suffix)

	return b.String(), nil
}

func slurmDirectives(n int, limits Limits, layout Layout) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#SBATCH --array=1-%d\n", n)
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", jobName)
	fmt.Fprintf(&b, "#SBATCH --output=%s/%s_%%A_%%a.out\n", layout.JobLogDir, jobName)
	fmt.Fprintf(&b, "#SBATCH --error=%s/%s_%%A_%%a.err\n", layout.JobLogDir, jobName)
	fmt.Fprintf(&b, "#SBATCH --time=%s\n", limits.Walltime)
	fmt.Fprintf(&b, "#SBATCH --mem=%s\n", limits.Memory)
	fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", limits.CPUs)

	return b.String()
}

func sgeDirectives(n int, limits Limits, layout Layout) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#$ -t 1-%d\n", n)
	fmt.Fprintf(&b, "#$ -N %s\n", jobName)
	fmt.Fprintf(&b, "#$ -o %s/%s_$JOB_ID_$TASK_ID.out\n", layout.JobLogDir, jobName)
	fmt.Fprintf(&b, "#$ -e %s/%s_$JOB_ID_$TASK_ID.err\n", layout.JobLogDir, jobName)
	fmt.Fprintf(&b, "#$ -l h_rt=%s\n", limits.Walltime)
	fmt.Fprintf(&b, "#$ -l h_vmem=%s\n", limits.Memory)

	if limits.CPUs > 1 {
		fmt.Fprintf(&b, "#$ -pe smp %d\n", limits.CPUs)
	}

	return b.String()
}

func lsfDirectives(n int, limits Limits, layout Layout) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#BSUB -J %s[1-%d]\n", jobName, n)
	fmt.Fprintf(&b, "#BSUB -o %s/%s_%%J_%%I.out\n", layout.JobLogDir, jobName)
	fmt.Fprintf(&b, "#BSUB -e %s/%s_%%J_%%I.err\n", layout.JobLogDir, jobName)
	fmt.Fprintf(&b, "#BSUB -W %s\n", lsfWalltime(limits.Walltime))
	fmt.Fprintf(&b, "#BSUB -M %s\n", limits.Memory)
	fmt.Fprintf(&b, "#BSUB -n %d\n", limits.CPUs)

	return b.String()
}

// lsfWalltime converts HH:MM:SS walltime to LSF's HH:MM form.
func lsfWalltime(w string) string {
	parts := strings.Split(w, ":")
	if len(parts) == 3 {
		return parts[0] + ":" + parts[1]
	}

	return w
}
