package job

// Extension lets a job flavor (build vs. release) contribute at most one
// pre-job and one post-job step. The pre-job step is spliced at the end of
// the pre-job list; the post-job step joins the same LIFO cleanup stack as
// the synthesized container teardown.
type Extension interface {
	// PreJobStep returns the flavor's setup step, or nil.
	PreJobStep(desc *Descriptor) Step
	// PostJobStep returns the flavor's teardown step, or nil.
	PostJobStep(desc *Descriptor) Step
}

// NopExtension contributes nothing. Job flavors without setup needs use it.
type NopExtension struct{}

func (NopExtension) PreJobStep(*Descriptor) Step  { return nil }
func (NopExtension) PostJobStep(*Descriptor) Step { return nil }
