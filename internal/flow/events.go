package flow

// EventKind 步骤生命周期事件类型
type EventKind int

const (
	EventStepStart EventKind = iota
	EventStepComplete
	EventStepError
)

// Event 一次生命周期通知；每个声明的步骤名每种事件至多触发一次
// （共享批次为每个成员各触发一次 complete，携带同一签名）。
type Event struct {
	Kind   EventKind
	Step   string
	Result *StepResult // EventStepComplete
	Err    error       // EventStepError
}

// Observer 事件观察者；在 Flow 的执行 goroutine 内同步调用，不得阻塞
type Observer func(Event)

func (f *Flow) emit(e Event) {
	for _, ob := range f.observers {
		ob(e)
	}
}

// Observe 注册原始事件观察者
func (f *Flow) Observe(ob Observer) *Flow {
	f.observers = append(f.observers, ob)
	return f
}

// OnStepStart 语法糖：只关心 step-start
func (f *Flow) OnStepStart(fn func(name string)) *Flow {
	return f.Observe(func(e Event) {
		if e.Kind == EventStepStart {
			fn(e.Step)
		}
	})
}

// OnStepComplete 语法糖：只关心 step-complete
func (f *Flow) OnStepComplete(fn func(name string, res *StepResult)) *Flow {
	return f.Observe(func(e Event) {
		if e.Kind == EventStepComplete {
			fn(e.Step, e.Result)
		}
	})
}

// OnStepError 语法糖：只关心 step-error
func (f *Flow) OnStepError(fn func(name string, err error)) *Flow {
	return f.Observe(func(e Event) {
		if e.Kind == EventStepError {
			fn(e.Step, e.Err)
		}
	})
}
