package record

// Species is one species' base data.
type Species struct {
	GrowthCurve string `rom:"growthCurve"`
	HP          int    `rom:"hp"`
	Attack      int    `rom:"attack"`
	Defense     int    `rom:"defense"`
	Speed       int    `rom:"speed"`
	SpAttack    int    `rom:"spAttack"`
	SpDefense   int    `rom:"spDefense"`
	Type1       int    `rom:"type1"`
	Type2       int    `rom:"type2"`
	CatchRate   int    `rom:"catchRate"`
	BaseExp     int    `rom:"baseExp"`
	CommonItem  int    `rom:"commonItem"`
	RareItem    int    `rom:"rareItem"`
	GenderRatio int    `rom:"genderRatio"`
	Ability1    int    `rom:"ability1"`
	Ability2    int    `rom:"ability2"`
}

// BST returns the base stat total.
func (s *Species) BST() int {
	return s.HP + s.Attack + s.Defense + s.Speed + s.SpAttack + s.SpDefense
}

// Move is one move's battle data.
type Move struct {
	Category     string `rom:"category"`
	Effect       int    `rom:"effect"`
	Power        int    `rom:"power"`
	Type         int    `rom:"type"`
	Accuracy     int    `rom:"accuracy"`
	PP           int    `rom:"pp"`
	EffectChance int    `rom:"effectChance"`
	Target       int    `rom:"target"`
	Priority     int    `rom:"priority"`
	Contact      bool   `rom:"contact"`
}

// Item is one item's data.
type Item struct {
	Price int `rom:"price"`
}

// MachineMove is the move taught by one TM or HM.
type MachineMove struct {
	Move int `rom:"move"`
}
