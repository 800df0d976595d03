package template

// BuiltinSource returns the built-in workflow pack. It is always the first
// layer; extension packs and project overrides replace types wholesale.
func BuiltinSource() Source {
	return Source{Name: "builtin", Data: []byte(builtinPack)}
}

const builtinPack = `name: builtin

types:
  task:
    initial_state: open
    states:
      - {name: open, category: open}
      - {name: in_progress, category: wip}
      - {name: blocked, category: open}
      - {name: closed, category: done}
      - {name: archived, category: done}
    transitions:
      - {from: open, to: in_progress}
      - {from: open, to: closed}
      - {from: in_progress, to: open}
      - {from: in_progress, to: blocked}
      - {from: in_progress, to: closed}
      - {from: blocked, to: in_progress}
      - {from: blocked, to: open}
      - {from: closed, to: open}
      - {from: closed, to: archived}

  bug:
    initial_state: open
    states:
      - {name: open, category: open}
      - {name: in_progress, category: wip}
      - {name: closed, category: done}
      - {name: archived, category: done}
    transitions:
      - {from: open, to: in_progress}
      - {from: in_progress, to: open}
      - {from: in_progress, to: closed, enforcement: hard, requires_fields: [resolution]}
      - {from: closed, to: open}
      - {from: closed, to: archived}
    fields:
      - {name: resolution, kind: string, required_in: [closed]}
      - {name: severity, kind: enum, values: [low, medium, high, critical]}

  feature:
    initial_state: open
    states:
      - {name: open, category: open}
      - {name: in_progress, category: wip}
      - {name: review, category: wip}
      - {name: closed, category: done}
      - {name: archived, category: done}
    transitions:
      - {from: open, to: in_progress}
      - {from: in_progress, to: open}
      - {from: in_progress, to: review}
      - {from: review, to: in_progress}
      - {from: review, to: closed, enforcement: soft, requires_fields: [acceptance]}
      - {from: closed, to: open}
      - {from: closed, to: archived}
    fields:
      - {name: acceptance, kind: string}
      - {name: design, kind: string}

  epic:
    initial_state: open
    states:
      - {name: open, category: open}
      - {name: in_progress, category: wip}
      - {name: closed, category: done}
      - {name: archived, category: done}
    transitions:
      - {from: open, to: in_progress}
      - {from: in_progress, to: open}
      - {from: in_progress, to: closed}
      - {from: open, to: closed}
      - {from: closed, to: open}
      - {from: closed, to: archived}

  chore:
    initial_state: open
    states:
      - {name: open, category: open}
      - {name: in_progress, category: wip}
      - {name: closed, category: done}
      - {name: archived, category: done}
    transitions:
      - {from: open, to: in_progress}
      - {from: open, to: closed}
      - {from: in_progress, to: closed}
      - {from: in_progress, to: open}
      - {from: closed, to: open}
      - {from: closed, to: archived}
`
