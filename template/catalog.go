package template

// bundledCatalog is the built-in pt-BR catalog. Remote overrides published
// through the cache take precedence; this set guarantees every stage can
// always produce a message.
var bundledCatalog = []Template{
	{
		Name:     "kumon:greeting:message:welcome",
		Body:     "Olá! {saudacao} Eu sou a assistente da unidade Kumon. Com quem eu falo?",
		Optional: []string{"saudacao"},
		Version:  1,
	},
	{
		Name:     "kumon:greeting:message:welcome_back",
		Body:     "Que bom falar com você de novo, {parent_name}! Como posso ajudar?",
		Required: []string{"parent_name"},
		Version:  1,
	},
	{
		Name:    "kumon:greeting:message:default",
		Body:    "Olá! Eu sou a assistente da unidade Kumon. Como posso ajudar?",
		Version: 1,
	},
	{
		Name:     "kumon:qualification:message:ask_student",
		Body:     "Prazer, {parent_name}! O Kumon seria para você ou para outra pessoa?",
		Required: []string{"parent_name"},
		Version:  1,
	},
	{
		Name:     "kumon:qualification:message:ask_child_name",
		Body:     "Qual é o nome {artigo_crianca} estudante?",
		Optional: []string{"artigo_crianca"},
		Version:  1,
	},
	{
		Name:     "kumon:qualification:message:ask_child_age",
		Body:     "Quantos anos {child_name} tem?",
		Required: []string{"child_name"},
		Version:  1,
	},
	{
		Name:    "kumon:qualification:message:default",
		Body:    "Para eu ajudar melhor, pode me contar um pouco mais sobre o estudante?",
		Version: 1,
	},
	{
		Name:    "kumon:information:message:method",
		Body:    "O método Kumon desenvolve autonomia nos estudos: cada aluno avança no próprio ritmo com material individualizado e orientação diária.",
		Version: 1,
	},
	{
		Name:     "kumon:information:message:pricing",
		Body:     "A mensalidade é {monthly_fee} por disciplina, e o material didático tem uma taxa única de {material_fee}.",
		Required: []string{"monthly_fee", "material_fee"},
		Version:  1,
	},
	{
		Name:    "kumon:information:message:hours",
		Body:    "Atendemos de segunda a sexta, das 08:00 às 12:00 e das 14:00 às 17:00.",
		Version: 1,
	},
	{
		Name:    "kumon:information:message:default",
		Body:    "Posso falar sobre o método, os programas, os valores ou agendar uma avaliação diagnóstica gratuita. O que prefere?",
		Version: 1,
	},
	{
		Name:    "kumon:information:message:degraded",
		Body:    "No momento não consigo consultar esse detalhe. Posso falar sobre o método, os valores, ou agendar uma avaliação diagnóstica. O que prefere?",
		Version: 1,
	},
	{
		Name:     "kumon:scheduling:message:offer_slots",
		Body:     "Tenho estes horários para a avaliação diagnóstica:\n{slots}\nQual funciona melhor para você?",
		Required: []string{"slots"},
		Version:  1,
	},
	{
		Name:    "kumon:scheduling:message:ask_email",
		Body:    "Para enviar a confirmação, qual é o seu e-mail?",
		Version: 1,
	},
	{
		Name:    "kumon:scheduling:message:no_slots",
		Body:    "Não encontrei horários disponíveis nos próximos dias. Vou pedir para a equipe entrar em contato para combinar um horário.",
		Version: 1,
	},
	{
		Name:    "kumon:scheduling:message:default",
		Body:    "Vamos agendar sua avaliação diagnóstica gratuita? Me diga sua preferência de dia e período.",
		Version: 1,
	},
	{
		Name:     "kumon:confirmation:message:confirm",
		Body:     "Confirmando: avaliação diagnóstica em {slot_start}, confirmação enviada para {email}. Está correto?",
		Required: []string{"slot_start", "email"},
		Version:  1,
	},
	{
		Name:     "kumon:confirmation:message:booked",
		Body:     "Agendado! Sua avaliação diagnóstica será em {slot_start}. Enviamos os detalhes para {email}. Até lá!",
		Required: []string{"slot_start", "email"},
		Version:  1,
	},
	{
		Name:    "kumon:confirmation:message:default",
		Body:    "Posso confirmar o agendamento?",
		Version: 1,
	},
	{
		Name:    "kumon:fallback:message:level1",
		Body:    "Desculpe, não entendi bem. Pode reformular? Posso ajudar com informações sobre o Kumon ou com o agendamento de uma avaliação.",
		Version: 1,
	},
	{
		Name:    "kumon:fallback:message:level2",
		Body:    "Acho que não estou conseguindo ajudar como deveria. Posso chamar alguém da equipe para falar com você?",
		Version: 1,
	},
	{
		Name:    "kumon:fallback:message:generic",
		Body:    "Desculpe, não consegui processar sua mensagem. Pode tentar de novo?",
		Version: 1,
	},
	{
		Name:    "kumon:handoff:message:closing",
		Body:    "Vou transferir você para alguém da nossa equipe. Em instantes uma pessoa continua o atendimento por aqui. Obrigada!",
		Version: 1,
	},
	{
		Name:    "kumon:completed:message:closing",
		Body:    "Perfeito! Qualquer dúvida é só chamar por aqui. Obrigada pelo contato!",
		Version: 1,
	},
	{
		Name:    "kumon:system:message:off_hours",
		Body:    "Recebi sua mensagem! Nosso atendimento funciona de segunda a sexta, das 08:00 às 12:00 e das 14:00 às 17:00, mas já posso adiantar informações ou iniciar seu agendamento.",
		Version: 1,
	},
	{
		Name:    "kumon:system:message:security",
		Body:    "Não posso ajudar com esse pedido. Posso falar sobre o Kumon ou agendar uma avaliação diagnóstica.",
		Version: 1,
	},
	{
		Name:    "kumon:system:message:deletion_ack",
		Body:    "Entendi. Registrei seu pedido de exclusão de dados e nossa equipe vai concluir o processo conforme a LGPD. Você receberá a confirmação em breve.",
		Version: 1,
	},
	{
		Name:    "kumon:system:message:deletion_pending",
		Body:    "Seu pedido de exclusão de dados está em andamento. Assim que for concluído, nossa equipe confirma por aqui.",
		Version: 1,
	},
	{
		Name:    "kumon:system:message:expired",
		Body:    "Desculpe a demora! Tive um problema para processar sua mensagem. Pode repetir, por favor?",
		Version: 1,
	},
	{
		Name:    "kumon:system:message:out_of_scope",
		Body:    "Esse assunto foge do que consigo ajudar por aqui. Posso falar sobre o Kumon ou agendar uma avaliação diagnóstica gratuita.",
		Version: 1,
	},
}
